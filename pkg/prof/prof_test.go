//go:build profile

package prof

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCPU(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpu.prof")
	require.NoError(t, StartCPU(path))
	assert.True(t, IsCPUActive())

	assert.ErrorIs(t, StartCPU(filepath.Join(t.TempDir(), "cpu2.prof")), ErrCPUProfileActive)

	var buf bytes.Buffer
	assert.ErrorIs(t, StartCPUWriter(&buf), ErrCPUProfileActive)

	require.NoError(t, StopCPU())
	assert.False(t, IsCPUActive())
	assert.ErrorIs(t, StopCPU(), ErrCPUProfileNotActive)

	// Restartable
	require.NoError(t, StartCPU(path))
	require.NoError(t, StopCPU())
}

func TestStartCPU_InvalidPath(t *testing.T) {
	err := StartCPU("/nonexistent/directory/cpu.prof")
	assert.Error(t, err)
	assert.False(t, IsCPUActive())
}

func TestWrite(t *testing.T) {
	for _, p := range []Profile{ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileThreadCreate, ProfileBlock, ProfileMutex} {
		t.Run(p.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), p.String()+".prof")
			require.NoError(t, Write(p, path))
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.NotZero(t, info.Size())
		})
	}
}

func TestWrite_Rejected(t *testing.T) {
	assert.ErrorIs(t, Write(ProfileCPU, filepath.Join(t.TempDir(), "cpu.prof")), ErrInvalidProfile)
	assert.Error(t, Write(ProfileHeap, "/nonexistent/directory/heap.prof"))

	var buf bytes.Buffer
	assert.ErrorIs(t, WriteTo(ProfileCPU, &buf), ErrInvalidProfile)
	assert.ErrorIs(t, WriteToDebug(Profile("nonexistent"), &buf, 0), ErrInvalidProfile)
}

func TestWriteToDebug(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteToDebug(ProfileGoroutine, &buf, 1))
	assert.Contains(t, buf.String(), "goroutine")
}

func TestStart(t *testing.T) {
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	stop, err := Start(cpu, heap)
	require.NoError(t, err)
	assert.True(t, IsCPUActive())
	require.NoError(t, stop())
	assert.False(t, IsCPUActive())

	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)

	stop, err = Start("", "")
	require.NoError(t, err)
	assert.NoError(t, stop())
}

func TestRegister(t *testing.T) {
	r := mux.NewRouter()
	Register(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/goroutine?debug=1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")
}
