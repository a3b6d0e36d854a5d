package provider

import (
	"bufio"
	"bytes"
	"io"
)

var dataTag = []byte("data:")

// scanSSE reads an SSE body line by line and hands every "data:" payload to
// fn, stopping early when fn returns false. The buffer is sized for the large
// single-line chunks some providers emit.
func scanSSE(body io.Reader, fn func(data []byte) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, dataTag) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataTag):])
		if len(data) == 0 {
			continue
		}
		if !fn(data) {
			return nil
		}
	}
	return scanner.Err()
}
