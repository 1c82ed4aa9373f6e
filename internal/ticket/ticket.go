package ticket

import (
	"fmt"
	"path"
	"strings"
)

// PDF is one downloaded ticket, passed from the fetcher to the mailbox
// client and the notifier.
type PDF struct {
	Filename string
	Data     []byte
}

// UniqueNames rewrites the filenames of pdfs in place so that no two entries
// share a name. Empty names become ticket1.pdf, ticket2.pdf and so on;
// repeats get a numeric suffix before the extension (x.pdf, x-2.pdf, x-3.pdf)
// assigned in slice order, so the result is deterministic.
func UniqueNames(pdfs []PDF) {
	counts := make(map[string]int, len(pdfs))
	taken := make(map[string]struct{}, len(pdfs))

	for i := range pdfs {
		base := pdfs[i].Filename
		if base == "" {
			base = fmt.Sprintf("ticket%d.pdf", i+1)
		}

		counts[base]++
		name := base
		if counts[base] > 1 {
			name = suffixed(base, counts[base])
		}
		for {
			if _, dup := taken[name]; !dup {
				break
			}
			counts[base]++
			name = suffixed(base, counts[base])
		}

		taken[name] = struct{}{}
		pdfs[i].Filename = name
	}
}

func suffixed(name string, n int) string {
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
