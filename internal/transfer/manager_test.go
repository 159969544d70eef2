package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/config"
	"github.com/corelink/node/internal/peer"
	"github.com/corelink/node/internal/session"
	"github.com/corelink/node/internal/wire"
)

// testStream adapts a pair of io.Pipe halves into a peer.Stream, letting
// tests connect two Managers without any real network dependency.
type testStream struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	peerID string
}

func (p *testStream) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *testStream) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *testStream) RemotePeerID() string        { return p.peerID }
func (p *testStream) Close() error {
	p.r.Close()
	return p.w.Close()
}

func newTestPipe(idA, idB string) (*testStream, *testStream) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := &testStream{r: ar, w: aw, peerID: idB}
	b := &testStream{r: br, w: bw, peerID: idA}
	return a, b
}

func newTestManager(t *testing.T, batchSize int) *Manager {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StorageRoot = t.TempDir()
	cfg.BatchSize = batchSize
	cfg.RequestTimeout = 300 * time.Millisecond
	cfg.TickInterval = 15 * time.Millisecond
	m, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func writeSourceFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// connect wires two Managers together over an in-memory pipe, returning
// both ends of the pipe so a test can close either side.
func connect(t *testing.T, ctx context.Context, mgrA, mgrB *Manager, idA, idB string) (streamA, streamB *testStream) {
	t.Helper()
	sa, sb := newTestPipe(idA, idB)
	hA := peer.New(sa, mgrA.Events(), nil)
	hB := peer.New(sb, mgrB.Events(), nil)
	go hA.Run(ctx)
	go hB.Run(ctx)
	return sa, sb
}

func waitTerminal(t *testing.T, ctx context.Context, mgr *Manager, fileID chunk.FileID) (session.Status, session.FailureReason) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for session %s to reach a terminal state", fileID)
		default:
		}
		status, reason, _, _, _, found, err := mgr.Progress(ctx, fileID)
		if err != nil {
			t.Fatalf("Progress: %v", err)
		}
		if found && status != session.Active {
			return status, reason
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndToEndSmallFileRoundTrip(t *testing.T) {
	content := []byte("Hello, World!!!!") // exactly 16 bytes, one short chunk
	srcPath := writeSourceFile(t, "hi.txt", content)

	mgrA := newTestManager(t, 5)
	mgrB := newTestManager(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	fileID, err := mgrA.Offer(ctx, srcPath)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	connect(t, ctx, mgrA, mgrB, "downloader", "uploader")

	status, reason := waitTerminal(t, ctx, mgrB, fileID)
	if status != session.Complete {
		t.Fatalf("status = %v (reason %v), want Complete", status, reason)
	}

	got, err := os.ReadFile(filepath.Join(mgrB.cfg.CompleteDir(), "hi.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("downloaded content = %q, want %q", got, content)
	}
}

func TestEndToEndMultiChunkBatchedDownload(t *testing.T) {
	size := 200 * 1024 // 200 KiB, 4 chunks at 64 KiB
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	srcPath := writeSourceFile(t, "payload.bin", data)

	mgrA := newTestManager(t, 5)
	mgrB := newTestManager(t, 2) // batch size 2, so at most two chunks are in flight at a time

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	fileID, err := mgrA.Offer(ctx, srcPath)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	connect(t, ctx, mgrA, mgrB, "downloader", "uploader")

	status, reason := waitTerminal(t, ctx, mgrB, fileID)
	if status != session.Complete {
		t.Fatalf("status = %v (reason %v), want Complete", status, reason)
	}

	got, err := os.ReadFile(filepath.Join(mgrB.cfg.CompleteDir(), "payload.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("downloaded length = %d, want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d = %x, want %x", i, got[i], data[i])
		}
	}
}

func TestEndToEndProgressReportsRateAndETA(t *testing.T) {
	size := 200 * 1024 // 200 KiB, 4 chunks at 64 KiB
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	srcPath := writeSourceFile(t, "payload.bin", data)

	mgrA := newTestManager(t, 5)
	mgrB := newTestManager(t, 1) // one chunk in flight at a time, so several samples land

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	fileID, err := mgrA.Offer(ctx, srcPath)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	connect(t, ctx, mgrA, mgrB, "downloader", "uploader")

	status, reason := waitTerminal(t, ctx, mgrB, fileID)
	if status != session.Complete {
		t.Fatalf("status = %v (reason %v), want Complete", status, reason)
	}

	_, _, percent, rate, eta, found, err := mgrB.Progress(ctx, fileID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if !found {
		t.Fatal("expected the session to exist")
	}
	if percent != 100 {
		t.Fatalf("percent = %d, want 100", percent)
	}
	if rate <= 0 {
		t.Fatalf("rate = %f, want a positive moving-average rate after a multi-chunk transfer", rate)
	}
	if eta != 0 {
		t.Fatalf("eta = %v, want 0 once the session is no longer Active", eta)
	}
}

func TestEndToEndEmptyFileCompletesImmediately(t *testing.T) {
	srcPath := writeSourceFile(t, "empty.txt", nil)

	mgrA := newTestManager(t, 5)
	mgrB := newTestManager(t, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	fileID, err := mgrA.Offer(ctx, srcPath)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	connect(t, ctx, mgrA, mgrB, "downloader", "uploader")

	status, _, percent, found, err := pollUntilFound(t, ctx, mgrB, fileID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if !found {
		t.Fatal("expected the session to exist")
	}
	if status != session.Complete || percent != 100 {
		t.Fatalf("status=%v percent=%d, want Complete/100", status, percent)
	}
}

func pollUntilFound(t *testing.T, ctx context.Context, mgr *Manager, fileID chunk.FileID) (session.Status, session.FailureReason, int, bool, error) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for session %s to appear", fileID)
		default:
		}
		status, reason, percent, _, _, found, err := mgr.Progress(ctx, fileID)
		if err != nil || found {
			return status, reason, percent, found, err
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// scriptedUploader speaks the wire protocol directly over one side of a
// pipe, standing in for a real Manager so tests can inject integrity
// failures that a well-behaved registry would never produce on its own.
type scriptedUploader struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (u *scriptedUploader) Read(b []byte) (int, error)  { return u.r.Read(b) }
func (u *scriptedUploader) Write(b []byte) (int, error) { return u.w.Write(b) }

// run announces manifest, then answers every ChunkRequest with chunkBytes,
// corrupting the payload for the first badAttempts[index] attempts at that
// index. It returns once its stream closes.
func (u *scriptedUploader) run(manifest chunk.Manifest, chunkBytes map[uint32][]byte, badAttempts map[uint32]int) {
	if err := wire.Encode(u, wire.FileOffer{Manifest: manifest}); err != nil {
		return
	}
	for {
		msg, err := wire.Decode(u)
		if err != nil {
			return
		}
		req, ok := msg.(wire.ChunkRequest)
		if !ok {
			continue
		}
		for _, idx := range req.Indexes {
			data := chunkBytes[idx]
			if badAttempts[idx] > 0 {
				badAttempts[idx]--
				corrupted := append([]byte(nil), data...)
				if len(corrupted) > 0 {
					corrupted[0] ^= 0xFF
				}
				if err := wire.Encode(u, wire.ChunkData{FileID: manifest.FileID, Index: idx, Bytes: corrupted, Hash: manifest.ChunkHashes[idx]}); err != nil {
					return
				}
				continue
			}
			if err := wire.Encode(u, wire.ChunkData{FileID: manifest.FileID, Index: idx, Bytes: data, Hash: manifest.ChunkHashes[idx]}); err != nil {
				return
			}
		}
	}
}

func buildSoloManifest(t *testing.T, data []byte) (chunk.Manifest, string) {
	t.Helper()
	path := writeSourceFile(t, "source.bin", data)
	m, err := chunk.Build(path)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return *m, path
}

func TestEndToEndIntegrityFailureThenSuccess(t *testing.T) {
	data := make([]byte, chunk.Size)
	for i := range data {
		data[i] = byte(i)
	}
	manifest, _ := buildSoloManifest(t, data)

	mgrB := newTestManager(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgrB.Run(ctx)

	ur, dw := io.Pipe()
	dr, uw := io.Pipe()
	uploader := &scriptedUploader{r: ur, w: uw}
	downloaderStream := &testStream{r: dr, w: dw, peerID: "uploader"}

	go uploader.run(manifest, map[uint32][]byte{0: data}, map[uint32]int{0: 2})

	hB := peer.New(downloaderStream, mgrB.Events(), nil)
	go hB.Run(ctx)

	status, reason := waitTerminal(t, ctx, mgrB, manifest.FileID)
	if status != session.Complete {
		t.Fatalf("status = %v (reason %v), want Complete after two corrupt retries", status, reason)
	}
}

func TestEndToEndIntegrityFailureEscalatesToFailed(t *testing.T) {
	data := make([]byte, chunk.Size)
	manifest, _ := buildSoloManifest(t, data)

	mgrB := newTestManager(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgrB.Run(ctx)

	ur, dw := io.Pipe()
	dr, uw := io.Pipe()
	uploader := &scriptedUploader{r: ur, w: uw}
	downloaderStream := &testStream{r: dr, w: dw, peerID: "uploader"}

	go uploader.run(manifest, map[uint32][]byte{0: data}, map[uint32]int{0: 3})

	hB := peer.New(downloaderStream, mgrB.Events(), nil)
	go hB.Run(ctx)

	status, reason := waitTerminal(t, ctx, mgrB, manifest.FileID)
	if status != session.Failed || reason != session.ReasonIntegrityExceeded {
		t.Fatalf("status=%v reason=%v, want Failed/IntegrityExceeded", status, reason)
	}
}

func TestEndToEndSourceDisconnectFailsSession(t *testing.T) {
	size := 10 * chunk.Size
	data := make([]byte, size)
	srcPath := writeSourceFile(t, "big.bin", data)

	mgrA := newTestManager(t, 5)
	mgrB := newTestManager(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgrA.Run(ctx)
	go mgrB.Run(ctx)

	fileID, err := mgrA.Offer(ctx, srcPath)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	id, events := mgrB.Subscribe()
	defer mgrB.Unsubscribe(id)

	_, streamB := connect(t, ctx, mgrA, mgrB, "downloader", "uploader")

	deadline := time.After(5 * time.Second)
waitForChunk:
	for {
		select {
		case ev := <-events:
			if ev.Kind == EventChunkVerified && ev.FileID == fileID {
				break waitForChunk
			}
		case <-deadline:
			t.Fatal("timed out waiting for the first verified chunk")
		}
	}

	streamB.Close()

	status, reason := waitTerminal(t, ctx, mgrB, fileID)
	if status != session.Failed || reason != session.ReasonSourceGone {
		t.Fatalf("status=%v reason=%v, want Failed/SourceGone", status, reason)
	}
}
