package commands

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
	"github.com/stretchr/testify/assert"
)

func TestToMounts(t *testing.T) {
	mounts := toMounts([]VolumeMount{
		{Name: "job-abc", Target: "/work"},
		{Name: "previewd-cad-exchange", Target: "/cad-exchange", ReadOnly: true},
	})

	assert.Equal(t, []mount.Mount{
		{Type: mount.TypeVolume, Source: "job-abc", Target: "/work"},
		{Type: mount.TypeVolume, Source: "previewd-cad-exchange", Target: "/cad-exchange", ReadOnly: true},
	}, mounts)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef0123"))
	assert.Equal(t, "abc", shortID("abc"))
}
