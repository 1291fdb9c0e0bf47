// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package objproxy

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func (m *memUploader) Upload(key string, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}
	m.objects[key] = append([]byte(nil), buf...)

	return nil
}

func TestUpload(t *testing.T) {
	t.Parallel()

	m := &memUploader{objects: make(map[string][]byte)}
	p := New(m, 4)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			assert.NoError(t, p.Put(key+"/x", []byte{byte(i)}, i%2 == 0))
		}(i)
	}
	wg.Wait()
	p.Close()

	assert.Len(t, m.objects, 26)
}

func TestUploadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := New(&memUploader{objects: make(map[string][]byte), fail: boom}, 1)
	defer p.Close()

	assert.ErrorIs(t, p.Upload("k", nil, false), boom)
}

func TestUploadAfterClose(t *testing.T) {
	t.Parallel()

	p := New(&memUploader{objects: make(map[string][]byte)}, 0)
	p.Close()
	p.Close()

	require.ErrorIs(t, p.Upload("k", []byte{1}, true), ErrClosed)
}
