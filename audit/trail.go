package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/changegate/changegate/telemetry"
	"github.com/changegate/changegate/types"
)

// GenesisHash anchors the chain: the first event of a fresh trail
// carries it as prev_hash.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// DefaultSegmentBytes is the segment size that triggers rotation.
const DefaultSegmentBytes int64 = 64 << 20

// maxEventBytes bounds a single JSONL line when scanning segments.
const maxEventBytes = 1 << 20

// EventType classifies a trail entry
type EventType string

const (
	EventDecision        EventType = "decision"
	EventGateDenied      EventType = "gate_denied"
	EventOverrideUsed    EventType = "override_used"
	EventOverrideIssued  EventType = "override_issued"
	EventOverrideRevoked EventType = "override_revoked"
)

// Event is one line in the hash-chained JSONL trail. Each event carries
// the SHA-256 of the previous line, so any edit or removal breaks the
// chain from that point on.
type Event struct {
	Sequence   int64           `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       EventType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	PrevHash   string          `json:"prev_hash"`
}

// overrideUse is the payload recorded when an operation proceeds under
// a break-glass override. Approver, reason and expiry ride along so the
// trail alone answers who allowed what, and until when.
type overrideUse struct {
	Operation types.OperationKind      `json:"operation"`
	Override  types.BreakGlassOverride `json:"override"`
}

// Trail is an append-only audit log split into JSONL segments. Every
// append is flushed and synced before it reports success; the chain
// tail survives process restarts.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	prevHash string
	size     int64
	dir      string
	maxBytes int64
	logger   *telemetry.Logger
	now      func() time.Time
}

// Option configures a Trail
type Option func(*Trail)

// WithSegmentBytes caps segment size before rotation
func WithSegmentBytes(n int64) Option {
	return func(t *Trail) {
		t.maxBytes = n
	}
}

// WithLogger attaches a logger for rotation diagnostics
func WithLogger(logger *telemetry.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

// WithClock fixes the timestamp source
func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		t.now = now
	}
}

// Open creates or resumes a trail in the given directory. When segments
// already exist, the chain tail is recovered from the last entry so new
// events continue the previous sequence and hash chain.
func Open(dir string, opts ...Option) (*Trail, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	t := &Trail{
		dir:      dir,
		prevHash: GenesisHash,
		maxBytes: DefaultSegmentBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	segments, err := Segments(dir)
	if err != nil {
		return nil, err
	}
	if err := t.recoverTail(segments); err != nil {
		return nil, err
	}

	// Keep appending to the newest segment while it has room
	path := t.segmentPath()
	if n := len(segments); n > 0 {
		if info, err := os.Stat(segments[n-1]); err == nil && info.Size() < t.maxBytes {
			path = segments[n-1]
		}
	}
	if err := t.openSegment(path); err != nil {
		return nil, err
	}
	return t, nil
}

// Close flushes and closes the active segment
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit segment: %w", err)
	}
	return t.file.Close()
}

// Sequence returns the sequence number of the last appended event
func (t *Trail) Sequence() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sequence
}

// AppendDecision records an escalation decision
func (t *Trail) AppendDecision(ctx context.Context, decision types.Decision) error {
	return t.append(ctx, EventDecision, decision.Proposal.TargetID, decision)
}

// AppendGateDenied records a gate rejection
func (t *Trail) AppendGateDenied(ctx context.Context, denial types.GateDenial) error {
	return t.append(ctx, EventGateDenied, denial.ResourceID, denial)
}

// AppendOverrideUse records an operation that proceeded under a live
// break-glass override
func (t *Trail) AppendOverrideUse(ctx context.Context, operation types.OperationKind, override types.BreakGlassOverride) error {
	return t.append(ctx, EventOverrideUsed, override.ResourceID, overrideUse{
		Operation: operation,
		Override:  override,
	})
}

// AppendOverrideIssued records a new break-glass override
func (t *Trail) AppendOverrideIssued(ctx context.Context, override types.BreakGlassOverride) error {
	return t.append(ctx, EventOverrideIssued, override.ResourceID, override)
}

// AppendOverrideRevoked records an override cut short before its expiry
func (t *Trail) AppendOverrideRevoked(ctx context.Context, override types.BreakGlassOverride) error {
	return t.append(ctx, EventOverrideRevoked, override.ResourceID, override)
}

func (t *Trail) append(ctx context.Context, eventType EventType, resourceID string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	event := Event{
		Sequence:   t.sequence + 1,
		Timestamp:  t.now().UTC(),
		Type:       eventType,
		ResourceID: resourceID,
		Data:       data,
		PrevHash:   t.prevHash,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	if err := t.writeLine(line); err != nil {
		return err
	}

	t.sequence = event.Sequence
	t.prevHash = HashLine(line)
	telemetry.RecordAuditAppend(ctx, string(eventType))

	return t.maybeRotate(ctx)
}

// writeLine appends one line and makes it durable before returning
func (t *Trail) writeLine(line []byte) error {
	if _, err := t.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if _, err := t.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit segment: %w", err)
	}
	if err := t.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit segment: %w", err)
	}

	t.size += int64(len(line)) + 1
	return nil
}

// Rotate closes the active segment and starts a new one. The hash chain
// continues across the boundary, so verification still runs from
// genesis over all segments.
func (t *Trail) Rotate(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rotate(ctx)
}

func (t *Trail) maybeRotate(ctx context.Context) error {
	if t.maxBytes <= 0 || t.size < t.maxBytes {
		return nil
	}
	return t.rotate(ctx)
}

func (t *Trail) rotate(ctx context.Context) error {
	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit segment: %w", err)
	}
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit segment: %w", err)
	}
	if err := t.openSegment(t.segmentPath()); err != nil {
		return err
	}

	if t.logger != nil {
		t.logger.WithContext(ctx).Info().
			Str("segment", t.file.Name()).
			Int64("sequence", t.sequence).
			Msg("Audit segment rotated")
	}
	return nil
}

func (t *Trail) openSegment(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat audit segment: %w", err)
	}

	t.file = file
	t.writer = bufio.NewWriter(file)
	t.size = info.Size()
	return nil
}

// segmentPath names a segment after the first sequence it will hold,
// zero padded so lexical order is chain order
func (t *Trail) segmentPath() string {
	return filepath.Join(t.dir, fmt.Sprintf("changegate-%016d.audit", t.sequence+1))
}

// recoverTail restores sequence and prev hash from the last entry on
// disk. A segment that cannot be parsed stops the trail from opening;
// appending past a broken chain would bury the evidence.
func (t *Trail) recoverTail(segments []string) error {
	for _, segment := range segments {
		line, event, err := lastEvent(segment)
		if err != nil {
			return err
		}
		if line == nil {
			continue
		}
		t.sequence = event.Sequence
		t.prevHash = HashLine(line)
	}
	return nil
}

func lastEvent(path string) ([]byte, Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Event{}, fmt.Errorf("failed to open audit segment: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)

	var last []byte
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, Event{}, fmt.Errorf("failed to scan audit segment %s: %w", path, err)
	}
	if len(last) == 0 {
		return nil, Event{}, nil
	}

	var event Event
	if err := json.Unmarshal(last, &event); err != nil {
		return nil, Event{}, fmt.Errorf("corrupt audit segment %s: %w", path, err)
	}
	return last, event, nil
}

// Segments lists the trail's segment files in chain order
func Segments(dir string) ([]string, error) {
	segments, err := filepath.Glob(filepath.Join(dir, "changegate-*.audit"))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit segments: %w", err)
	}
	return segments, nil
}

// HashLine returns "sha256:<hex>" of the given bytes
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
