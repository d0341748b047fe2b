package download

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var fileNameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-",
	"?", "", "\"", "", "<", "", ">", "", "|", "",
)

var titleCaser = cases.Title(language.Und, cases.NoLower)

// DestinationDir resolves where a video's media lands. External identifiers
// are platform-assigned and filesystem-safe, so the layout survives channel
// and video renames.
func DestinationDir(libraryDir, channelExternalID, videoExternalID string) string {
	return filepath.Join(libraryDir, channelExternalID, videoExternalID)
}

// MediaFileName builds the display file name for a fetched media file,
// keeping the original extension. Falls back to the external ID when the
// title sanitizes away to nothing.
func MediaFileName(title, externalID, ext string) string {
	name := strings.TrimSpace(fileNameReplacer.Replace(title))
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = externalID
	} else {
		name = titleCaser.String(name)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return name + ext
}
