package genicam

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/snksoft/crc"
)

// feature streams are plain text, one "Name<TAB>Value" per line, with '#'
// comments.  Save appends a CRC-32 trailer over everything before it; Load
// checks the trailer when one is present so hand edited files without one
// still load.

const (
	streamHeader = "# instacam feature stream, version 1"
	crcPrefix    = "# CRC32 "
)

var crcTable = crc.NewTable(crc.CRC32)

// ErrChecksum is returned by Load when the stream's CRC trailer does not match
var ErrChecksum = errors.New("feature stream checksum mismatch")

func checksum(b []byte) uint32 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, b)
	return crcTable.CRC32(c)
}

// streamable reports whether n is written to feature streams.  m.mu must be held.
func streamable(n *entry) bool {
	return n.Streamable && n.Node.Access == RW &&
		n.Kind != KindCommand && n.Kind != KindCategory && n.Get == nil
}

// Save writes every streamable feature of m to w.  Nodes under a selector
// are written once for each selector value, preceded by the selector line
// that makes them visible, so that loading the stream in order restores all
// of them.  The selector's own value is written last.
func Save(w io.Writer, m *NodeMap) error {
	body := &bytes.Buffer{}
	fmt.Fprintln(body, streamHeader)

	m.mu.RLock()
	for _, name := range m.order {
		n := m.nodes[name]
		if n.Selector != "" {
			continue // written with its selector
		}
		if !streamable(n) {
			continue
		}
		var selected []*entry
		for _, other := range m.order {
			o := m.nodes[other]
			if o.Selector == name && streamable(o) {
				selected = append(selected, o)
			}
		}
		if len(selected) > 0 && n.Kind == KindEnumeration {
			for _, e := range n.Entries {
				fmt.Fprintf(body, "%s\t%s\n", name, e)
				for _, s := range selected {
					fmt.Fprintf(body, "%s\t%s\n", s.Name, format(s.Kind, s.valueAt(e)))
				}
			}
		}
		fmt.Fprintf(body, "%s\t%s\n", name, format(n.Kind, m.valueLocked(n)))
	}
	m.mu.RUnlock()

	sum := checksum(body.Bytes())
	fmt.Fprintf(body, "%s%08x\n", crcPrefix, sum)
	_, err := w.Write(body.Bytes())
	return err
}

// Load applies a feature stream to m line by line.  Features the map does
// not have, or that are not writable in its current state, are skipped.
// Lines that fail are retried once after the first pass, since features
// constrain one another (OffsetX limits Width) and the stream's order may not
// suit the map's current state.  With validate, every written feature is
// read back and compared.  All remaining failures are returned together.
func Load(r io.Reader, m *NodeMap, validate bool) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return pkgerrors.Wrap(err, "reading feature stream")
	}
	body, err := verifyTrailer(raw)
	if err != nil {
		return err
	}

	var (
		errs  []error
		retry []streamLine
	)
	sc := bufio.NewScanner(bytes.NewReader(body))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := splitLine(line)
		if !ok {
			errs = append(errs, fmt.Errorf("line %d: malformed %q", lineNo, line))
			continue
		}
		l := streamLine{lineNo, name, value}
		if !m.Access(name).Writable() {
			continue
		}
		if err := l.apply(m, validate); err != nil {
			// a selected value means nothing once the selector has moved on
			if n, _ := m.Info(name); n.Selector != "" {
				errs = append(errs, err)
				continue
			}
			retry = append(retry, l)
		}
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err)
	}
	for _, l := range retry {
		if err := l.apply(m, validate); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type streamLine struct {
	no          int
	name, value string
}

func (l streamLine) apply(m *NodeMap, validate bool) error {
	if err := m.SetValueString(l.name, l.value); err != nil {
		return pkgerrors.Wrapf(err, "line %d", l.no)
	}
	if !validate {
		return nil
	}
	got, err := m.ValueString(l.name)
	if err != nil {
		return pkgerrors.Wrapf(err, "line %d: validating", l.no)
	}
	if !sameValue(got, l.value) {
		return fmt.Errorf("line %d: %s reads back %q, wrote %q", l.no, l.name, got, l.value)
	}
	return nil
}

// verifyTrailer strips and checks the CRC trailer if there is one
func verifyTrailer(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimRight(raw, "\r\n")
	idx := bytes.LastIndexByte(trimmed, '\n')
	last := trimmed[idx+1:]
	if !bytes.HasPrefix(last, []byte(crcPrefix)) {
		return raw, nil
	}
	want, err := strconv.ParseUint(strings.TrimSpace(string(last[len(crcPrefix):])), 16, 32)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "parsing feature stream checksum")
	}
	body := raw[:idx+1]
	if got := checksum(body); got != uint32(want) {
		return nil, fmt.Errorf("%w: computed %08x, file has %08x", ErrChecksum, got, want)
	}
	return body, nil
}

// splitLine splits on the first tab, or the first run of spaces for hand
// written files
func splitLine(line string) (string, string, bool) {
	if name, value, ok := strings.Cut(line, "\t"); ok {
		return strings.TrimSpace(name), value, name != ""
	}
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], strings.TrimSpace(fields[1]), true
}

// sameValue compares textual values, numerically when both parse as numbers
func sameValue(a, b string) bool {
	if a == b {
		return true
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		return fa == fb
	}
	ba, errA := strconv.ParseBool(a)
	bb, errB := strconv.ParseBool(b)
	return errA == nil && errB == nil && ba == bb
}

// SaveFile writes a feature stream to path, creating or truncating it
func SaveFile(path string, m *NodeMap) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Save(f, m); err != nil {
		f.Close()
		return pkgerrors.Wrapf(err, "saving features to %s", path)
	}
	return f.Close()
}

// LoadFile applies the feature stream at path
func LoadFile(path string, m *NodeMap, validate bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return pkgerrors.Wrapf(Load(f, m, validate), "loading features from %s", path)
}
