package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/downloads-bridge/internal/mediaindex"
	"github.com/maauso/downloads-bridge/internal/storage"
)

// mockSaver implements Saver for testing.
type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) Save(ctx context.Context, data []byte, fileName string) (storage.Locator, error) {
	args := m.Called(ctx, data, fileName)
	return args.Get(0).(storage.Locator), args.Error(1)
}

type panicSaver struct{}

func (panicSaver) Save(context.Context, []byte, string) (storage.Locator, error) {
	panic("resolver died")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveCall(args map[string]any) Call {
	return Call{Method: MethodSaveToDownloads, Arguments: args}
}

func TestInvoke_UnknownMethod(t *testing.T) {
	saver := &mockSaver{}
	d := NewDispatcher(saver, testLogger())

	res := d.Invoke(context.Background(), Call{Method: "deleteFromDownloads"})
	assert.True(t, res.NotImplemented)
	assert.Nil(t, res.Err)
	saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvoke_Register(t *testing.T) {
	d := NewDispatcher(&mockSaver{}, testLogger())
	d.Register("ping", func(context.Context, Call) Result { return Success("pong") })

	res := d.Invoke(context.Background(), Call{Method: "ping"})
	assert.Equal(t, "pong", res.Value)
}

func TestSaveToDownloads_Success(t *testing.T) {
	saver := &mockSaver{}
	saver.On("Save", mock.Anything, []byte{1, 2, 3}, "result_1.png").
		Return(storage.Locator("content://media/external_primary/downloads/1"), nil)
	d := NewDispatcher(saver, testLogger())

	res := d.Invoke(context.Background(), saveCall(map[string]any{
		ArgBytes: []byte{1, 2, 3},
		ArgName:  "result_1.png",
	}))

	require.Nil(t, res.Err)
	assert.Equal(t, "content://media/external_primary/downloads/1", res.Value)
	saver.AssertExpectations(t)
}

func TestSaveToDownloads_MissingBytes(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"no arguments", nil},
		{"absent", map[string]any{ArgName: "a.png"}},
		{"nil slice", map[string]any{ArgBytes: []byte(nil)}},
		{"wrong type", map[string]any{ArgBytes: "not bytes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &mockSaver{}
			d := NewDispatcher(saver, testLogger())

			res := d.Invoke(context.Background(), saveCall(tt.args))
			require.NotNil(t, res.Err)
			assert.Equal(t, CodeInvalidInput, res.Err.Code)
			assert.Equal(t, "bytes missing", res.Err.Message)
			saver.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSaveToDownloads_DefaultName(t *testing.T) {
	fixed := time.UnixMilli(1760875200123)
	saver := &mockSaver{}
	saver.On("Save", mock.Anything, mock.Anything, "segmentation_result_1760875200123.png").
		Return(storage.Locator("/sdcard/Download/segmentation_result_1760875200123.png"), nil)
	d := NewDispatcher(saver, testLogger(), WithClock(func() time.Time { return fixed }))

	res := d.Invoke(context.Background(), saveCall(map[string]any{ArgBytes: []byte{}}))
	require.Nil(t, res.Err)
	saver.AssertExpectations(t)
}

func TestDefaultFileName_Pattern(t *testing.T) {
	before := time.Now().UnixMilli()
	name := DefaultFileName(time.Now())
	after := time.Now().UnixMilli()

	m := regexp.MustCompile(`^segmentation_result_(\d+)\.png$`).FindStringSubmatch(name)
	require.Len(t, m, 2, "unexpected name %s", name)
	ms, err := strconv.ParseInt(m[1], 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, before)
	assert.LessOrEqual(t, ms, after)
}

func TestSaveToDownloads_Failures(t *testing.T) {
	tests := []struct {
		name    string
		loc     storage.Locator
		err     error
		message string
	}{
		{"reservation failed", "", storage.ErrReservationFailed, "no path returned"},
		{"channel unavailable", "", storage.ErrChannelUnavailable, "unable to open output stream"},
		{"write failed", "", fmt.Errorf("%w: disk full", storage.ErrWriteFailed), "write failed: disk full"},
		{"other error", "", errors.New("boom"), "boom"},
		{"empty locator", "", nil, "no path returned"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &mockSaver{}
			saver.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(tt.loc, tt.err)
			d := NewDispatcher(saver, testLogger())

			res := d.Invoke(context.Background(), saveCall(map[string]any{ArgBytes: []byte("x")}))
			require.NotNil(t, res.Err)
			assert.Equal(t, CodeSaveFailed, res.Err.Code)
			assert.Equal(t, tt.message, res.Err.Message)
			assert.Nil(t, res.Value)
		})
	}
}

func TestSaveToDownloads_Panic(t *testing.T) {
	d := NewDispatcher(panicSaver{}, testLogger())

	res := d.Invoke(context.Background(), saveCall(map[string]any{ArgBytes: []byte("x")}))
	require.NotNil(t, res.Err)
	assert.Equal(t, CodeSaveFailed, res.Err.Code)
	assert.Equal(t, "resolver died", res.Err.Message)
}

func TestError_Error(t *testing.T) {
	err := &Error{Code: CodeSaveFailed, Message: "no path returned"}
	assert.Equal(t, "SAVE_FAILED: no path returned", err.Error())
}

func TestSaveToDownloads_EndToEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	idx, err := mediaindex.NewMemoryIndex(fs, "/index")
	require.NoError(t, err)
	w, err := storage.NewWriter(storage.ModeIndexed, idx, storage.WithLogger(testLogger()))
	require.NoError(t, err)
	d := NewDispatcher(w, testLogger())
	ctx := context.Background()

	t.Run("png round trip", func(t *testing.T) {
		png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
		res := d.Invoke(ctx, saveCall(map[string]any{ArgBytes: png, ArgName: "result_1.png"}))
		require.Nil(t, res.Err)

		h := storage.Handle(res.Value.(string))
		e, err := idx.Get(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, mediaindex.StateVisible, e.State)
		assert.Equal(t, "result_1.png", e.DisplayName)

		r, err := idx.Open(ctx, h)
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		content, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, png, content)
	})

	t.Run("missing bytes leaves index untouched", func(t *testing.T) {
		before, err := idx.List(ctx)
		require.NoError(t, err)

		res := d.Invoke(ctx, saveCall(map[string]any{ArgName: "x.png"}))
		require.NotNil(t, res.Err)
		assert.Equal(t, CodeInvalidInput, res.Err.Code)

		after, err := idx.List(ctx)
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("no pending entries survive", func(t *testing.T) {
		entries, err := idx.List(ctx)
		require.NoError(t, err)
		for _, e := range entries {
			assert.Equal(t, mediaindex.StateVisible, e.State)
		}
	})
}
