package shared

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldSearchTerm(t *testing.T) {
	cases := map[string]string{
		"Pérez":       "perez",
		"  GONZÁLEZ ": "gonzalez",
		"Muñoz":       "munoz",
		"12345678":    "12345678",
		"":            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FoldSearchTerm(in), "input %q", in)
	}
}

func TestFoldSearchTermConcurrent(t *testing.T) {
	const input = "Pérez Ñandú ÀÉÎÕÜ"
	want := FoldSearchTerm(input)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := FoldSearchTerm(input); got != want {
					t.Errorf("got %q, want %q", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, ClampLimit(0, 20, 100))
	assert.Equal(t, 100, ClampLimit(500, 20, 100))
	assert.Equal(t, 50, ClampLimit(50, 20, 100))
}
