package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKeys(t *testing.T) {
	b := BuildSegmentJob{Variant: "base", BufferPath: "/tmp/a.f32", Dim: 4, Count: 10, Timestamp: 1700, OwnerID: "video-1"}
	assert.Equal(t, "build/base/1700-10/video-1", b.Key())

	moved := b
	moved.BufferPath = "/elsewhere.f32"
	assert.Equal(t, b.Key(), moved.Key())

	assert.Equal(t, "compact/base/3", CompactJob{Variant: "base", Seq: 3}.Key())
	assert.Equal(t, b.Key(), NewBuildJob(b).Key())
	assert.Equal(t, "base", NewCompactJob(CompactJob{Variant: "base"}).Variant())
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"build", NewBuildJob(BuildSegmentJob{Variant: "v", BufferPath: "x", Dim: 2, Count: 1}), true},
		{"compact", NewCompactJob(CompactJob{Variant: "v"}), true},
		{"missing buffer", NewBuildJob(BuildSegmentJob{Variant: "v", Dim: 2, Count: 1}), false},
		{"zero count", NewBuildJob(BuildSegmentJob{Variant: "v", BufferPath: "x", Dim: 2}), false},
		{"bad variant", NewCompactJob(CompactJob{Variant: "a/b"}), false},
		{"no payload", Job{Kind: KindBuild}, false},
		{"unknown kind", Job{Kind: "reindex"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDecodeJob(t *testing.T) {
	job := NewBuildJob(BuildSegmentJob{Variant: "v", BufferPath: "x.f32", Dim: 8, Count: 3, Timestamp: 9, OwnerID: "o"})
	data, err := EncodeJob(job)
	require.NoError(t, err)

	got, err := DecodeJob(data)
	require.NoError(t, err)
	assert.Equal(t, job, got)

	got, err = DecodeJob([]byte(`{"kind":"compact","compact":{"variant":"clip","seq":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "compact/clip/2", got.Key())

	_, err = DecodeJob([]byte(`{"kind":`))
	assert.Error(t, err)
	_, err = DecodeJob([]byte(`{"kind":"build"}`))
	assert.Error(t, err)
}
