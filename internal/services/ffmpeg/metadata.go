package ffmpeg

import (
	"strconv"
	"strings"

	"audiobooker/internal/assembly"
)

var metadataEscaper = strings.NewReplacer(
	`\`, `\\`,
	"=", `\=`,
	";", `\;`,
	"#", `\#`,
	"\n", "\\\n",
)

// BuildMetadata renders an FFMETADATA1 document with book tags and one
// [CHAPTER] block per marker in milliseconds.
func BuildMetadata(title, author string, markers []assembly.Marker) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	if title != "" {
		b.WriteString("title=" + metadataEscaper.Replace(title) + "\n")
		b.WriteString("album=" + metadataEscaper.Replace(title) + "\n")
	}
	if author != "" {
		b.WriteString("artist=" + metadataEscaper.Replace(author) + "\n")
		b.WriteString("album_artist=" + metadataEscaper.Replace(author) + "\n")
	}
	b.WriteString("genre=Audiobook\n")
	for _, m := range markers {
		b.WriteString("\n[CHAPTER]\nTIMEBASE=1/1000\n")
		b.WriteString("START=" + strconv.FormatInt(m.StartMS, 10) + "\n")
		b.WriteString("END=" + strconv.FormatInt(m.EndMS, 10) + "\n")
		b.WriteString("title=" + metadataEscaper.Replace(m.Title) + "\n")
	}
	return b.String()
}

// concatLine quotes path for the concat demuxer.
func concatLine(path string) string {
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'\n"
}
