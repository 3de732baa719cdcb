package dbn

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// The gateway control channel is a line-oriented, pipe-delimited key=value
// protocol used only during session setup. Lines end with '\n'.

// subscribeChunkSize is the gateway's limit on symbols per subscribe line.
const subscribeChunkSize = 1000

// readControlLine reads one newline-terminated control message, without the
// newline. It reads a byte at a time so no stream bytes past the line are
// consumed; the control phase does not need to be performant.
func readControlLine(r io.Reader) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(buf[0])
	}
}

// controlField returns the value for key in a pipe-delimited control message.
func controlField(msg, key string) (string, bool) {
	for _, field := range strings.Split(msg, "|") {
		k, v, ok := strings.Cut(field, "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

// authLine builds the CRAM response line: lowercase hex SHA-256 of
// "<cram>|<api_key>" suffixed with the key's 5-character bucket id.
func authLine(cram, apiKey, dataset string, tsOut bool) (string, error) {
	if len(apiKey) < 5 {
		return "", fmt.Errorf("API key too short")
	}

	sum := sha256.Sum256([]byte(cram + "|" + apiKey))
	bucket := apiKey[len(apiKey)-5:]

	ts := 0
	if tsOut {
		ts = 1
	}

	return fmt.Sprintf(
		"auth=%s-%s|dataset=%s|encoding=dbn|ts_out=%d\n",
		hex.EncodeToString(sum[:]),
		bucket,
		dataset,
		ts), nil
}

// subscribeLines builds the subscribe messages for a symbol set. Zero symbols
// means the special ALL_SYMBOLS subscription (suffix ignored, no is_last
// field); otherwise symbols are chunked in caller order, at most
// subscribeChunkSize per line, with is_last=1 on the final chunk. Replay
// requests intra-day replay via start=0.
func subscribeLines(schema, symbology string, symbols []string, suffix string, replay bool) []string {
	start := ""
	if replay {
		start = "|start=0"
	}

	if len(symbols) == 0 {
		return []string{fmt.Sprintf("schema=%s|stype_in=%s%s|symbols=ALL_SYMBOLS\n", schema, symbology, start)}
	}

	var lines []string
	for i := 0; i < len(symbols); i += subscribeChunkSize {
		chunk := symbols[i:min(i+subscribeChunkSize, len(symbols))]
		isLast := 0
		if i+subscribeChunkSize >= len(symbols) {
			isLast = 1
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "schema=%s|stype_in=%s%s|is_last=%d|symbols=", schema, symbology, start, isLast)
		for j, symbol := range chunk {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(symbol)
			sb.WriteString(suffix)
		}
		sb.WriteByte('\n')
		lines = append(lines, sb.String())
	}
	return lines
}

// startSessionLine switches the gateway from the control phase to DBN
// streaming.
const startSessionLine = "start_session=0\n"

// readPreamble consumes the 8-byte DBN stream preamble ("DBN", one version
// byte, little-endian header length) and discards the variable-length header
// that follows. Returns the ErrBadMessage or ErrPeerClosed kind on failure.
func readPreamble(r io.Reader) error {
	var preamble [8]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return fmt.Errorf("%w: reading stream preamble: %v", ErrPeerClosed, err)
	}

	if string(preamble[:3]) != "DBN" {
		return fmt.Errorf("%w: stream preamble has invalid signature", ErrBadMessage)
	}
	if preamble[3] != 1 {
		return fmt.Errorf("%w: stream version %d unsupported", ErrBadMessage, preamble[3])
	}

	headerLength := binary.LittleEndian.Uint32(preamble[4:])
	if _, err := io.CopyN(io.Discard, r, int64(headerLength)); err != nil {
		return fmt.Errorf("%w: reading stream header: %v", ErrPeerClosed, err)
	}

	return nil
}
