package scan

import (
	"context"
	"errors"
	"testing"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Payload
		wantErr error
	}{
		{name: "plain handle", text: " ramesh@ybl ", want: Payload{Identifier: "ramesh@ybl"}},
		{name: "phone number", text: "9876543210", want: Payload{Identifier: "9876543210"}},
		{name: "upi link", text: "upi://pay?pa=priya@upi&pn=Priya%20Sharma&am=250.50&cu=INR", want: Payload{Identifier: "priya@upi", Name: "Priya Sharma", Amount: 250.5}},
		{name: "upi link with bad amount", text: "UPI://pay?pa=arjun@upi&am=abc", want: Payload{Identifier: "arjun@upi"}},
		{name: "upi link without payee", text: "upi://pay?pn=Nobody", wantErr: ErrInvalidPayload},
		{name: "empty", text: "   ", wantErr: ErrEmptyPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePayload(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestReported(t *testing.T) {
	text, err := Reported{Text: "vikram@upi"}.Decode(context.Background(), nil)
	if err != nil || text != "vikram@upi" {
		t.Fatalf("expected passthrough, got %q %v", text, err)
	}

	_, err = Reported{Failure: "permission_denied"}.Decode(context.Background(), nil)
	var camErr *CameraError
	if !errors.As(err, &camErr) || !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied camera error, got %v", err)
	}
	if camErr.Guidance() != PermissionDeniedGuidance {
		t.Fatalf("unexpected guidance %q", camErr.Guidance())
	}

	_, err = Reported{Failure: "device_unavailable"}.Decode(context.Background(), nil)
	if !errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
}

type frameSourceStub struct {
	frames int
	err    error
}

func (s *frameSourceStub) NextFrame(ctx context.Context) (Frame, error) {
	s.frames++
	if s.err != nil {
		return nil, s.err
	}
	return Frame("qr"), nil
}

func TestScan(t *testing.T) {
	dec := DecoderFunc(func(ctx context.Context, src FrameSource) (string, error) {
		if _, err := src.NextFrame(ctx); err != nil {
			return "", &CameraError{Kind: ErrDeviceUnavailable, Err: err}
		}
		return "upi://pay?pa=sneha@upi", nil
	})

	src := &frameSourceStub{}
	p, err := Scan(context.Background(), dec, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Identifier != "sneha@upi" || src.frames != 1 {
		t.Fatalf("unexpected result %+v after %d frames", p, src.frames)
	}

	_, err = Scan(context.Background(), dec, &frameSourceStub{err: errors.New("busy")})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable, got %v", err)
	}
}
