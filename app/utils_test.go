package app

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/require"

	actx "go.hackfix.me/schemer/app/context"
	"go.hackfix.me/schemer/driver/sqlite"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

type testApp struct {
	*App
	fs             vfs.FileSystem
	drv            *sqlite.Driver
	stdout, stderr *safeBuffer
	env            *mockEnv
}

func newTestApp(t *testing.T, opts ...Option) *testApp {
	t.Helper()

	// A unique name per app, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	drv, err := sqlite.Open(t.Context(),
		fmt.Sprintf("file:schemer-%x?mode=memory&cache=shared", rndName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })

	var (
		fs             = memoryfs.New()
		stdout, stderr = newSafeBuffer(), newSafeBuffer()
		env            = &mockEnv{env: map[string]string{}}
	)

	opts = append([]Option{
		WithTimeNow(timeNowFn),
		WithEnv(env),
		WithDriver(drv),
		WithContext(t.Context()),
		WithFDs(&bytes.Buffer{}, stdout, stderr),
		WithFS(fs),
		WithLogger(false),
	}, opts...)
	app, err := New("schemer", "/config.json", opts...)
	require.NoError(t, err)

	return &testApp{App: app, fs: fs, drv: drv, stdout: stdout, stderr: stderr, env: env}
}

// Run resets the output buffers and runs the app with the given arguments.
func (ta *testApp) Run(args ...string) error {
	ta.stdout.Reset()
	ta.stderr.Reset()
	return ta.App.Run(args)
}

func (ta *testApp) writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, ta.fs.MkdirAll(vfs.Dir(ta.fs, path), 0o700))
	require.NoError(t, vfs.WriteFile(ta.fs, path, []byte(data), 0o600))
}

type mockEnv struct {
	mx  sync.RWMutex
	env map[string]string
}

var _ actx.Environment = (*mockEnv)(nil)

func (me *mockEnv) Get(key string) string {
	me.mx.RLock()
	defer me.mx.RUnlock()
	return me.env[key]
}

func (me *mockEnv) Set(key, val string) error {
	me.mx.Lock()
	defer me.mx.Unlock()
	me.env[key] = val
	return nil
}

// cancelingWriter cancels a context when the written data contains a
// substring.
type cancelingWriter struct {
	io.Writer
	match  []byte
	cancel context.CancelFunc
}

func (w *cancelingWriter) Write(p []byte) (int, error) {
	if bytes.Contains(p, w.match) {
		w.cancel()
	}
	return w.Writer.Write(p)
}

// safeBuffer is a thread-safe buffer.
type safeBuffer struct {
	mx  sync.RWMutex
	buf *bytes.Buffer
}

func newSafeBuffer() *safeBuffer {
	return &safeBuffer{buf: &bytes.Buffer{}}
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.buf.Reset()
}

func (b *safeBuffer) String() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.buf.String()
}
