package storage

import (
	"path"
	"strings"
)

// OutputPrefix derives where the HLS output of key is written: the sub-folder of
// key below inputPrefix is kept and the file name (without extension, spaces
// replaced by underscores) becomes the leaf folder. The result ends in "/".
// The mapping is deterministic, so a retried job overwrites its own output.
func OutputPrefix(key, inputPrefix, outputPrefix string) string {
	base := path.Base(key)
	name := strings.ReplaceAll(strings.TrimSuffix(base, path.Ext(base)), " ", "_")

	folder := ""
	if strings.HasPrefix(key, inputPrefix) {
		folder = path.Dir(strings.TrimPrefix(key, inputPrefix))
		if folder == "." || folder == "/" {
			folder = ""
		}
		folder = strings.Trim(folder, "/")
	}

	out := outputPrefix
	if out != "" && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	if folder != "" {
		out += folder + "/"
	}
	return out + name + "/"
}
