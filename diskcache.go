package scex

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/readahead"
)

// SignatureRecord is the (fullyQualifiedName, typedSignature,
// erasedSignature) triple spec §3/§4.8 attaches to every external symbol a
// compiled artifact references.
type SignatureRecord struct {
	FullName string
	Typed    string
	Erased   string
}

// sigHeader is the fixed first line of a .sig file (spec §4.8).
const sigHeader = "SIGNATURES:"

// globalCacheVersion is bumped whenever this package's on-disk format
// changes incompatibly; a mismatched cacheVersion file clears the
// directory (spec §4.8).
const globalCacheVersion = 1

// computeSignatures derives the SignatureRecord set for every entry of an
// assembled environment. Values that are themselves functions are
// recorded as methods; everything else as fields, per spec §4.8's erased
// signature shapes ("for methods... for fields...").
func computeSignatures(env map[string]any) []SignatureRecord {
	names := sortedKeys(env)
	out := make([]SignatureRecord, 0, len(names))

	for _, name := range names {
		out = append(out, signatureOf(name, env[name]))
	}

	return out
}

func signatureOf(name string, value any) SignatureRecord {
	if value == nil {
		return SignatureRecord{FullName: name, Typed: name + ": <untyped>", Erased: "<none>"}
	}

	t := reflect.TypeOf(value)

	if t.Kind() == reflect.Func {
		return SignatureRecord{
			FullName: name,
			Typed:    name + funcParamList(t) + " " + funcResultList(t),
			Erased:   t.String(),
		}
	}

	return SignatureRecord{
		FullName: name,
		Typed:    name + ": " + t.String(),
		Erased:   name + ":" + t.String(),
	}
}

func funcParamList(t reflect.Type) string {
	parts := make([]string, t.NumIn())
	for i := range parts {
		parts[i] = t.In(i).String()
	}

	return "(" + strings.Join(parts, ", ") + ")"
}

func funcResultList(t reflect.Type) string {
	parts := make([]string, t.NumOut())
	for i := range parts {
		parts[i] = t.Out(i).String()
	}

	return strings.Join(parts, ", ")
}

// Resolver looks up the current typed+erased signature for a
// fully-qualified symbol name, standing in for "every listed triple still
// resolves to a symbol... with the identical pair" (spec §4.8). A host
// supplies one backed by its own reflective type bridge; DefaultResolver
// below re-derives it from the same environment-assembly logic this
// package uses for its own demo/test environments.
type Resolver func(fullName string) (typed, erased string, ok bool)

// DefaultResolver builds a Resolver from a live environment map, useful
// for same-process round-trip tests of the soundness property (spec §8
// property 6).
func DefaultResolver(env map[string]any) Resolver {
	return func(fullName string) (string, string, bool) {
		v, ok := env[fullName]
		if !ok {
			return "", "", false
		}

		rec := signatureOf(fullName, v)

		return rec.Typed, rec.Erased, true
	}
}

// DiskCache persists compiled artifacts' source text and signature
// records under a classfile directory, keyed by ExpressionDef (spec §4.8,
// §6 on-disk layout). It does not persist *vm.Program bytecode directly —
// expr-lang has no public bytecode (de)serialization format — so a disk
// "hit" skips re-validating syntax/ACL (already proven sound when the
// record was written) but still recompiles the retained source text; see
// DESIGN.md for why this is the faithful adaptation of "skip running the
// unit" to a host without a serializable classfile format.
type DiskCache struct {
	Dir string
}

// NewDiskCache returns a DiskCache rooted at dir, reconciling the
// cacheVersion file first (spec §4.8, §5 "the cacheVersion file is the
// coarse reconciliation point").
func NewDiskCache(dir string) (*DiskCache, error) {
	dc := &DiskCache{Dir: dir}
	if err := dc.reconcileVersion(); err != nil {
		return nil, err
	}

	return dc, nil
}

func (dc *DiskCache) versionPath() string { return filepath.Join(dc.Dir, "cacheVersion") }

// reconcileVersion clears dc.Dir if its recorded cacheVersion does not
// match globalCacheVersion, then writes the current version.
func (dc *DiskCache) reconcileVersion() error {
	if err := os.MkdirAll(dc.Dir, 0o755); err != nil {
		return ErrIOFailure.Wrap(err)
	}

	current := strconv.Itoa(globalCacheVersion) + ".0"

	data, err := os.ReadFile(dc.versionPath())
	if err == nil && strings.TrimSpace(string(data)) != current {
		entries, _ := os.ReadDir(dc.Dir)
		for _, e := range entries {
			_ = os.RemoveAll(filepath.Join(dc.Dir, e.Name()))
		}
	}

	if err := os.WriteFile(dc.versionPath(), []byte(current), 0o644); err != nil {
		return ErrIOFailure.Wrap(err)
	}

	return nil
}

// unitDir returns (and creates, tolerating races per spec §5) the
// per-expression subdirectory for def.
func (dc *DiskCache) unitDir(def ExpressionDef) (string, error) {
	dir := filepath.Join(dc.Dir, def.Key())
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return "", ErrIOFailure.Wrap(err)
	}

	return dir, nil
}

// Store writes the retained source and the .sig file for def.
func (dc *DiskCache) Store(def ExpressionDef, source string, sigs []SignatureRecord) error {
	dir, err := dc.unitDir(def)
	if err != nil {
		return err
	}

	name := def.Key()

	if err := os.WriteFile(filepath.Join(dir, name+".expr"), []byte(source), 0o644); err != nil {
		return ErrIOFailure.Wrap(err)
	}

	if err := dc.writeSig(filepath.Join(dir, name+".sig"), sigs); err != nil {
		return err
	}

	return nil
}

func (dc *DiskCache) writeSig(path string, sigs []SignatureRecord) error {
	sigs = slices.Clone(sigs)
	sortRecords(sigs)

	var b strings.Builder

	b.WriteString(sigHeader)
	b.WriteString("\n")

	for _, s := range sigs {
		fmt.Fprintf(&b, "%s\n%s\n\n", s.Typed, s.Erased)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return ErrIOFailure.Wrap(err)
	}

	return nil
}

// Load reads back def's retained source and recorded signatures, if
// present.
func (dc *DiskCache) Load(def ExpressionDef) (source string, sigs []SignatureRecord, ok bool, err error) {
	dir := filepath.Join(dc.Dir, def.Key())
	name := def.Key()

	srcData, rerr := os.ReadFile(filepath.Join(dir, name+".expr"))
	if rerr != nil {
		return "", nil, false, nil
	}

	sigs, err = dc.readSig(filepath.Join(dir, name+".sig"))
	if err != nil {
		return "", nil, false, nil
	}

	return string(srcData), sigs, true, nil
}

func (dc *DiskCache) readSig(path string) ([]SignatureRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ra := readahead.NewReader(f)
	defer ra.Close()

	scanner := bufio.NewScanner(ra)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != sigHeader {
		return nil, ErrIOFailure.With(attrString("file", path))
	}

	var (
		sigs []SignatureRecord
		typed string
		stage int // 0=want typed, 1=want erased, 2=want blank
	)

	for scanner.Scan() {
		line := scanner.Text()

		switch stage {
		case 0:
			if strings.TrimSpace(line) == "" {
				continue
			}

			typed = line
			stage = 1
		case 1:
			sigs = append(sigs, SignatureRecord{Typed: typed, Erased: line, FullName: fullNameFromTyped(typed)})
			stage = 2
		case 2:
			stage = 0
		}
	}

	return sigs, scanner.Err()
}

func fullNameFromTyped(typed string) string {
	name, _, ok := strings.Cut(typed, "(")
	if ok {
		return strings.TrimSpace(name)
	}

	name, _, ok = strings.Cut(typed, ":")
	if ok {
		return strings.TrimSpace(name)
	}

	return typed
}

// StillValid reports whether every record in sigs still resolves through
// resolve to the identical (typed, erased) pair (spec §4.8, §8 property 6).
func StillValid(sigs []SignatureRecord, resolve Resolver) bool {
	for _, s := range sigs {
		typed, erased, ok := resolve(s.FullName)
		if !ok || typed != s.Typed || erased != s.Erased {
			return false
		}
	}

	return true
}

// sortRecords orders sigs by FullName so writeSig produces a deterministic
// .sig file regardless of the caller's iteration order, and so tests can
// assert on exact file contents.
func sortRecords(sigs []SignatureRecord) {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].FullName < sigs[j].FullName })
}
