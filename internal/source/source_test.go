package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTrusted(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want bool
	}{
		{name: "huggingface", url: "https://huggingface.co/org/model/resolve/main/model.safetensors", want: true},
		{name: "hf mirror", url: "https://hf-mirror.com/org/model/resolve/main/a.bin", want: true},
		{name: "modelscope", url: "https://modelscope.cn/models/a/b", want: true},
		{name: "subdomain", url: "https://cdn.modelscope.cn/x.bin", want: true},
		{name: "deep subdomain", url: "https://a.b.huggingface.co/x", want: true},
		{name: "uppercase host", url: "https://HuggingFace.CO/x", want: true},
		{name: "with port", url: "https://huggingface.co:443/x", want: true},
		{name: "no dot boundary", url: "https://notmodelscope.cn/x", want: false},
		{name: "hyphen prefix", url: "https://evil-huggingface.co/x", want: false},
		{name: "suffix attack", url: "https://huggingface.co.evil.com/x", want: false},
		{name: "untrusted", url: "https://evil.com/model.safetensors", want: false},
		{name: "userinfo trick", url: "https://huggingface.co@evil.com/x", want: false},
		{name: "no scheme", url: "huggingface.co/x", want: false},
		{name: "empty", url: "", want: false},
		{name: "unparsable", url: "http://[::1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrusted(tt.url))
		})
	}
}

func TestRewriteHost(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		from, to string
		want     string
	}{
		{
			name: "apex",
			url:  "https://huggingface.co/org/model/resolve/main/model.safetensors?download=true",
			from: "huggingface.co", to: "hf-mirror.com",
			want: "https://hf-mirror.com/org/model/resolve/main/model.safetensors?download=true",
		},
		{
			name: "subdomain kept",
			url:  "https://cdn-lfs.huggingface.co/repos/a%2Fb/file?x=1&y=%2F",
			from: "huggingface.co", to: "hf-mirror.com",
			want: "https://cdn-lfs.hf-mirror.com/repos/a%2Fb/file?x=1&y=%2F",
		},
		{
			name: "port and fragment kept",
			url:  "http://huggingface.co:8080/a/b.bin#frag",
			from: "huggingface.co", to: "hf-mirror.com",
			want: "http://hf-mirror.com:8080/a/b.bin#frag",
		},
		{
			name: "reverse direction",
			url:  "https://hf-mirror.com/a/b.bin",
			from: "hf-mirror.com", to: "huggingface.co",
			want: "https://huggingface.co/a/b.bin",
		},
		{
			name: "host does not match",
			url:  "https://modelscope.cn/huggingface.co/file.bin?h=huggingface.co",
			from: "huggingface.co", to: "hf-mirror.com",
			want: "https://modelscope.cn/huggingface.co/file.bin?h=huggingface.co",
		},
		{
			name: "no dot boundary",
			url:  "https://evil-huggingface.co/file.bin",
			from: "huggingface.co", to: "hf-mirror.com",
			want: "https://evil-huggingface.co/file.bin",
		},
		{
			name: "path mentioning domain untouched",
			url:  "https://huggingface.co/huggingface.co/x?q=huggingface.co",
			from: "huggingface.co", to: "hf-mirror.com",
			want: "https://hf-mirror.com/huggingface.co/x?q=huggingface.co",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteHost(tt.url, tt.from, tt.to))
		})
	}
}

func TestMirrorFor(t *testing.T) {
	from, to, ok := MirrorFor("https://huggingface.co/a/b.bin")
	require.True(t, ok)
	assert.Equal(t, "huggingface.co", from)
	assert.Equal(t, "hf-mirror.com", to)

	from, to, ok = MirrorFor("https://cdn.hf-mirror.com/a/b.bin")
	require.True(t, ok)
	assert.Equal(t, "hf-mirror.com", from)
	assert.Equal(t, "huggingface.co", to)

	_, _, ok = MirrorFor("https://modelscope.cn/a/b.bin")
	assert.False(t, ok, "modelscope has no mirror")

	_, _, ok = MirrorFor("not a url")
	assert.False(t, ok)
}

func TestMirrorsAreSymmetric(t *testing.T) {
	for from, to := range mirrors {
		assert.Equal(t, from, mirrors[to], "mirror of %s should map back", to)
		assert.NotEqual(t, from, to)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://huggingface.co/org/model/resolve/main/model.safetensors?download=true", want: "model.safetensors"},
		{url: "https://modelscope.cn/a/b/c.ckpt", want: "c.ckpt"},
		{url: "https://modelscope.cn/a/b/c.ckpt#section", want: "c.ckpt"},
		{url: "https://modelscope.cn/a/b/c.ckpt?path=x/y.bin", want: "c.ckpt"},
		{url: "https://modelscope.cn/a/b/", wantErr: true},
		{url: "https://modelscope.cn/a/..", wantErr: true},
		{url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := FileName(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrNoFileName)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
