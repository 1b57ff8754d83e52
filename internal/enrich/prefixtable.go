package enrich

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PrefixTable maps routed prefixes to AS numbers. It reads the text format
// of pyasn ipasn dumps: one "prefix<TAB>asn" pair per line, with ';' or '#'
// starting a comment.
type PrefixTable struct {
	index *prefixIndex[uint32]
}

func OpenPrefixTable(path string) (*PrefixTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := LoadPrefixTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func LoadPrefixTable(r io.Reader) (*PrefixTable, error) {
	t := &PrefixTable{index: newPrefixIndex[uint32]()}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == ';' || line[0] == '#' {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return nil, fmt.Errorf("line %d: want prefix and asn", lineNo)
		}
		prefix, err := parsePrefix(parts[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		asn, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(parts[1]), "AS"), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad asn %q", lineNo, parts[1])
		}
		t.index.insert(prefix, uint32(asn))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *PrefixTable) ASN(ip string) (uint32, bool) {
	return t.index.lookup(ip)
}

func (t *PrefixTable) Len() int {
	return t.index.len()
}
