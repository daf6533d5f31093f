package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// VerifyResult holds the outcome of a chain verification
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Events  int    `json:"events"`
	Segment string `json:"segment,omitempty"`
	Line    int    `json:"line,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Verify walks every segment in chain order and checks that the first
// event anchors at the genesis hash, that each event's prev_hash
// matches the hash of the line before it, and that sequence numbers
// only grow. Returns details of the first broken link.
func Verify(dir string) VerifyResult {
	segments, err := Segments(dir)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}

	v := &chainVerifier{prevHash: GenesisHash}
	for _, segment := range segments {
		if result := v.verifySegment(segment); result != nil {
			return *result
		}
	}

	return VerifyResult{Valid: true, Events: v.events}
}

// chainVerifier carries the chain state across segment boundaries
type chainVerifier struct {
	prevHash string
	sequence int64
	events   int
}

func (v *chainVerifier) verifySegment(segment string) *VerifyResult {
	file, err := os.Open(segment)
	if err != nil {
		return v.fail(segment, 0, fmt.Sprintf("open: %v", err))
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	lineNum := 0
	for scanner.Scan() {
		lineNum++

		// Copy out: the scanner reuses its buffer
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		if result := v.checkLine(line, segment, lineNum); result != nil {
			return result
		}
	}
	if err := scanner.Err(); err != nil {
		return v.fail(segment, lineNum, fmt.Sprintf("scan: %v", err))
	}
	return nil
}

func (v *chainVerifier) checkLine(line []byte, segment string, lineNum int) *VerifyResult {
	var event Event
	if err := json.Unmarshal(line, &event); err != nil {
		return v.fail(segment, lineNum, fmt.Sprintf("parse error: %v", err))
	}

	if event.PrevHash != v.prevHash {
		return v.fail(segment, lineNum, fmt.Sprintf("hash mismatch: expected %s, got %s", v.prevHash, event.PrevHash))
	}
	if event.Sequence <= v.sequence {
		return v.fail(segment, lineNum, fmt.Sprintf("sequence went backwards: %d after %d", event.Sequence, v.sequence))
	}

	v.prevHash = HashLine(line)
	v.sequence = event.Sequence
	v.events++
	return nil
}

func (v *chainVerifier) fail(segment string, lineNum int, msg string) *VerifyResult {
	return &VerifyResult{
		Events:  v.events,
		Segment: filepath.Base(segment),
		Line:    lineNum,
		Error:   msg,
	}
}
