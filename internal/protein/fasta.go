package protein

import (
	"bufio"
	"io"
	"strings"
)

// FastaEntry is one record of a FASTA stream.
type FastaEntry struct {
	ID          string
	Description string
	Sequence    string
}

// ParseFasta reads every record of a FASTA stream.
func ParseFasta(r io.Reader) ([]FastaEntry, error) {
	var out []FastaEntry
	var cur *FastaEntry
	var seq strings.Builder

	flush := func() {
		if cur != nil {
			cur.Sequence = strings.ToUpper(seq.String())
			out = append(out, *cur)
		}
		seq.Reset()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			header := strings.TrimPrefix(line, ">")
			id, desc, _ := strings.Cut(header, " ")
			cur = &FastaEntry{ID: id, Description: strings.TrimSpace(desc)}
			continue
		}
		seq.WriteString(line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}
