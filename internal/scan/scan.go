/**
 * @description
 * This package adapts an external QR decoder to the payment flow. The decoded
 * text is reduced to a payee identifier and then handled exactly like typed input.
 * Decoding itself is never done here.
 */

package scan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	ErrEmptyPayload      = errors.New("qr code is empty")
	ErrInvalidPayload    = errors.New("qr code does not contain a payee")
)

const (
	PermissionDeniedGuidance  = "Camera permission denied. Please enable camera access in your browser settings and try again, or enter the UPI ID manually."
	DeviceUnavailableGuidance = "Could not start the camera. Please ensure it is not being used by another app and try again, or enter the UPI ID manually."
)

// CameraError is a failure to read frames. Kind is ErrPermissionDenied or
// ErrDeviceUnavailable; it is never retried automatically.
type CameraError struct {
	Kind error
	Err  error
}

func (e *CameraError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *CameraError) Is(target error) bool { return target == e.Kind }

func (e *CameraError) Unwrap() error { return e.Err }

// Guidance is the message shown to the user for a camera failure.
func (e *CameraError) Guidance() string {
	if errors.Is(e.Kind, ErrPermissionDenied) {
		return PermissionDeniedGuidance
	}
	return DeviceUnavailableGuidance
}

// Frame is one captured image.
type Frame []byte

// FrameSource yields camera frames.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
}

// Decoder turns frames into the text encoded in a QR code.
type Decoder interface {
	Decode(ctx context.Context, src FrameSource) (string, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, src FrameSource) (string, error)

func (f DecoderFunc) Decode(ctx context.Context, src FrameSource) (string, error) {
	return f(ctx, src)
}

// Reported is a Decoder for results already produced on the client device: either
// the decoded text or the name of the camera failure.
type Reported struct {
	Text    string
	Failure string
}

// Decode returns the reported text or the matching CameraError.
func (r Reported) Decode(ctx context.Context, _ FrameSource) (string, error) {
	switch strings.ToLower(strings.TrimSpace(r.Failure)) {
	case "":
		return r.Text, nil
	case "permission_denied", "notallowederror":
		return "", &CameraError{Kind: ErrPermissionDenied}
	default:
		return "", &CameraError{Kind: ErrDeviceUnavailable, Err: fmt.Errorf("reported failure %q", r.Failure)}
	}
}

// Payload is the payee information carried by a QR code.
type Payload struct {
	Identifier string  `json:"identifier"`
	Name       string  `json:"name,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
}

// ParsePayload extracts the payee from decoded QR text. UPI deep links
// (upi://pay?pa=...&pn=...&am=...) are reduced to their parameters; anything else is
// taken as the identifier itself.
func ParsePayload(text string) (Payload, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Payload{}, ErrEmptyPayload
	}
	if !strings.HasPrefix(strings.ToLower(text), "upi:") {
		return Payload{Identifier: text}, nil
	}

	u, err := url.Parse(text)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	q := u.Query()
	p := Payload{
		Identifier: strings.TrimSpace(q.Get("pa")),
		Name:       strings.TrimSpace(q.Get("pn")),
	}
	if p.Identifier == "" {
		return Payload{}, ErrInvalidPayload
	}
	if am := strings.TrimSpace(q.Get("am")); am != "" {
		if v, err := strconv.ParseFloat(am, 64); err == nil && v > 0 {
			p.Amount = v
		}
	}
	return p, nil
}

// Scan reads one QR code from src and parses it.
func Scan(ctx context.Context, dec Decoder, src FrameSource) (Payload, error) {
	text, err := dec.Decode(ctx, src)
	if err != nil {
		return Payload{}, err
	}
	return ParsePayload(text)
}
