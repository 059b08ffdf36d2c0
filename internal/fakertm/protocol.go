package fakertm

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
)

// Frame is one PDU as the server sees it.
type Frame struct {
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Body   map[string]any `json:"body"`
}

func decodeFrame(data []byte) (Frame, error) {
	frame := Frame{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}
	if frame.Body == nil {
		frame.Body = map[string]any{}
	}
	return frame, nil
}

func encodeFrame(frame Frame) ([]byte, error) {
	if frame.Body == nil {
		frame.Body = map[string]any{}
	}
	return json.Marshal(frame)
}

func (frame Frame) str(key string) string {
	value, _ := frame.Body[key].(string)
	return value
}

func reply(request Frame, action string, body map[string]any) Frame {
	return Frame{Action: action, ID: request.ID, Body: body}
}

func errorBody(code string, reason string) map[string]any {
	return map[string]any{"error": code, "reason": reason}
}

// formatPosition renders a channel offset as "<generation>:<offset>".
func formatPosition(generation uint64, offset uint64) string {
	return strconv.FormatUint(generation, 10) + ":" + strconv.FormatUint(offset, 10)
}

func parsePosition(position string) (uint64, uint64, bool) {
	generationText, offsetText, found := strings.Cut(position, ":")
	if !found {
		return 0, 0, false
	}
	generation, err := strconv.ParseUint(generationText, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	offset, err := strconv.ParseUint(offsetText, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return generation, offset, true
}

func roleSecretHash(secret string, nonce string) string {
	mac := hmac.New(md5.New, []byte(secret))
	_, _ = mac.Write([]byte(nonce))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
