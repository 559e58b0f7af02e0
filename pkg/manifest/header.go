package manifest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/wildland-go/wildland/pkg/sigcontext"
)

// headerSeparator splits a manifest's signature header from its body,
// matching spec.md §6's wire format.
var headerSeparator = []byte("\n---\n")

// Header is the two-part "signature: |\n  <fpr>:<base64>" block that
// precedes every manifest body.
type Header struct {
	Fingerprint sigcontext.Fingerprint
	Signature   []byte
}

// splitEnvelope separates the raw header bytes from the body bytes.
func splitEnvelope(data []byte) (headerData, body []byte, err error) {
	idx := bytes.Index(data, headerSeparator)
	if idx < 0 {
		return nil, nil, fmt.Errorf("manifest separator %q not found", string(headerSeparator))
	}
	return data[:idx], data[idx+len(headerSeparator):], nil
}

// decodeHeader parses the "signature: |\n  fpr:sig\n" block.
func decodeHeader(headerData []byte) (*Header, error) {
	lines := strings.Split(string(headerData), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "signature: |" {
		return nil, fmt.Errorf("expected %q as first header line", "signature: |")
	}

	var blockLines []string
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "  ") {
			blockLines = append(blockLines, line[2:])
		} else if line == "" {
			blockLines = append(blockLines, "")
		} else {
			return nil, fmt.Errorf("unexpected header line: %q", line)
		}
	}
	for len(blockLines) > 0 && blockLines[len(blockLines)-1] == "" {
		blockLines = blockLines[:len(blockLines)-1]
	}
	if len(blockLines) == 0 {
		return nil, fmt.Errorf("empty signature block")
	}
	joined := strings.Join(blockLines, "\n")

	sepIdx := strings.Index(joined, ":")
	if sepIdx < 0 {
		return nil, fmt.Errorf("signature block missing fingerprint separator")
	}
	fpr := sigcontext.Fingerprint(joined[:sepIdx])
	sigB64 := joined[sepIdx+1:]

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("decoding signature base64: %w", err)
	}
	return &Header{Fingerprint: fpr, Signature: sig}, nil
}

// encodeHeader renders the header block, matching decodeHeader's
// framing exactly (round-trip covered by manifest_test.go).
func encodeHeader(h *Header) []byte {
	b64 := base64.StdEncoding.EncodeToString(h.Signature)
	line := fmt.Sprintf("%s:%s", h.Fingerprint, b64)
	var buf bytes.Buffer
	buf.WriteString("signature: |\n")
	buf.WriteString("  ")
	buf.WriteString(line)
	return buf.Bytes()
}
