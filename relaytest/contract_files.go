package relaytest

import (
	"path"

	"github.com/ruffel/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryFilesystem,
			Name:        "dest-creates-tree",
			Description: "Dest mirrors relative paths below the destination, creating directories",
			Run: func(t T, c *relay.Client, root string) {
				dir := scratch(t, root)

				upload(t, c, dir,
					&relay.File{Path: "top.txt", Contents: []byte("top")},
					&relay.File{Path: "nested/deeper/leaf.txt", Contents: []byte("leaf")},
				)

				assert.Equal(t, "leaf", download(t, c, path.Join(dir, "nested/deeper/leaf.txt")))
				assert.Equal(t, "top", download(t, c, path.Join(dir, "top.txt")))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "dest-overwrites",
			Description: "Copying the same tree twice leaves the latest contents",
			Run: func(t T, c *relay.Client, root string) {
				dir := scratch(t, root)

				upload(t, c, dir, &relay.File{Path: "v.txt", Contents: []byte("one")})
				upload(t, c, dir, &relay.File{Path: "v.txt", Contents: []byte("two")})

				assert.Equal(t, "two", download(t, c, path.Join(dir, "v.txt")))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "sftp-write-read",
			Description: "A file written in write mode reads back byte for byte",
			Run: func(t T, c *relay.Client, root string) {
				dir := scratch(t, root)
				upload(t, c, dir, &relay.File{Path: "seed.txt", Contents: []byte("seed")})

				target := path.Join(dir, "written.txt")

				s, err := c.SFTP(relay.ModeWrite, target)
				require.NoError(t, err)

				require.NoError(t, s.SendAll(t.Context(), &relay.File{Path: "local.txt", Contents: []byte("payload\x00bytes")}))

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)
				assert.Equal(t, "local.txt", files[0].Path)

				assert.Equal(t, "payload\x00bytes", download(t, c, target))
			},
		},
		{
			Category:    CategoryFilesystem,
			Name:        "sftp-read-local-path",
			Description: "WithLocalPath names the emitted file",
			Run: func(t T, c *relay.Client, root string) {
				dir := scratch(t, root)
				upload(t, c, dir, &relay.File{Path: "named.txt", Contents: []byte("named")})

				s, err := c.SFTP(relay.ModeRead, path.Join(dir, "named.txt"), relay.WithLocalPath("copy.txt"))
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, "copy.txt", files[0].Path)
				assert.Equal(t, "named", files[0].String())
			},
		},
	}
}

func upload(t T, c *relay.Client, dir string, files ...*relay.File) {
	s, err := c.Dest(dir)
	require.NoError(t, err)

	require.NoError(t, s.SendAll(t.Context(), files...))

	out, err := Wait(t, s)
	require.NoError(t, err)
	require.Len(t, out, len(files))
}

func download(t T, c *relay.Client, remote string) string {
	s, err := c.SFTP(relay.ModeRead, remote)
	require.NoError(t, err)

	files, err := Wait(t, s)
	require.NoError(t, err)
	require.Len(t, files, 1)

	return files[0].String()
}
