package ownership

import (
	"bufio"
	"io"
	"strings"
)

// Entry is one path → team assignment from a CODEOWNERS file.
type Entry struct {
	Path string
	Team string
}

// ParseCodeOwners extracts path/team assignments. Lines starting with "/"
// contribute their first token as path; commented "#CC" lines contribute
// their second token. The team is the last token with its organisation
// prefix ("@org/") removed.
func ParseCodeOwners(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var path string
		switch {
		case strings.HasPrefix(line, "#CC"):
			if len(fields) > 1 {
				path = fields[1]
			}
		case strings.HasPrefix(line, "/"):
			path = fields[0]
		}
		if path == "" {
			continue
		}

		entries = append(entries, Entry{
			Path: path,
			Team: teamName(fields[len(fields)-1]),
		})
	}
	return entries, scanner.Err()
}

func teamName(tag string) string {
	if i := strings.Index(tag, "/"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
