package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"artifactd/internal/sealer"
	"artifactd/pkg/types"
)

// Disk record layout: magic, big-endian uint32 header length, JSON header
// (unencrypted, enough to enforce TTL and size caps without decrypting),
// sealed payload.
var recordMagic = []byte("ARTC1\n")

const recordSuffix = ".rec"

// capTrimRatio: cap enforcement trims down to this fraction of the cap so
// a single oversized write does not thrash the tier.
const capTrimRatio = 0.8

var errNoRecord = errors.New("no disk record")

// DiskConfig configures the encrypted disk tier.
type DiskConfig struct {
	Dir      string
	CapBytes int64
	Sealer   sealer.Sealer
}

// recordHeader is the unencrypted metadata prefix of every record.
type recordHeader struct {
	Key         string        `json:"key"`
	ArtifactID  string        `json:"artifact_id"`
	Variant     types.Variant `json:"variant"`
	Provider    string        `json:"provider"`
	PayloadSize int64         `json:"payload_size"`
	WrittenUnix int64         `json:"written_unix"`
	TTLSec      int64         `json:"ttl_sec"`
	SHA256      string        `json:"sha256"`
}

func (h recordHeader) written() time.Time { return time.Unix(h.WrittenUnix, 0) }

func (h recordHeader) expired(now time.Time) bool {
	return h.TTLSec > 0 && now.Sub(h.written()) > time.Duration(h.TTLSec)*time.Second
}

type diskMeta struct {
	artifactID string
	variant    types.Variant
	fileBytes  int64
	written    time.Time
	ttl        time.Duration
}

type diskTier struct {
	dir    string
	cap    int64
	sealer sealer.Sealer
	log    zerolog.Logger

	mu    sync.Mutex
	recs  map[string]diskMeta
	bytes int64
}

// DeriveKey computes the stable disk cache key for an artifact variant.
// It is recomputable from the identifying triple alone, so no record can
// become orphaned.
func DeriveKey(id string, v types.Variant, kind types.ProviderKind) string {
	sum := sha256.Sum256([]byte(id + "\x00" + string(v) + "\x00" + string(kind)))
	return hex.EncodeToString(sum[:])
}

func newDiskTier(cfg DiskConfig, log zerolog.Logger) (*diskTier, error) {
	if cfg.Sealer == nil {
		return nil, fmt.Errorf("disk tier requires a sealer")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	d := &diskTier{
		dir:    cfg.Dir,
		cap:    cfg.CapBytes,
		sealer: cfg.Sealer,
		log:    log,
		recs:   make(map[string]diskMeta),
	}
	d.scan()
	return d, nil
}

// scan rebuilds the metadata index from record headers, discarding
// expired or unreadable files.
func (d *diskTier) scan() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warn().Err(err).Msg("disk tier scan failed")
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordSuffix) {
			continue
		}
		path := filepath.Join(d.dir, e.Name())
		hdr, err := readHeader(path)
		if err != nil {
			d.log.Warn().Str("file", e.Name()).Err(err).Msg("dropping unreadable disk record")
			corruptRecords.Inc()
			_ = os.Remove(path)
			continue
		}
		if hdr.expired(now) {
			_ = os.Remove(path)
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		d.recs[hdr.Key] = diskMeta{
			artifactID: hdr.ArtifactID,
			variant:    hdr.Variant,
			fileBytes:  fi.Size(),
			written:    hdr.written(),
			ttl:        time.Duration(hdr.TTLSec) * time.Second,
		}
		d.bytes += fi.Size()
	}
	diskTierBytes.Set(float64(d.bytes))
	d.log.Info().Int("records", len(d.recs)).Int64("bytes", d.bytes).Msg("disk tier scanned")
}

func (d *diskTier) path(key string) string {
	return filepath.Join(d.dir, key+recordSuffix)
}

func readHeader(path string) (recordHeader, error) {
	var hdr recordHeader
	f, err := os.Open(path)
	if err != nil {
		return hdr, err
	}
	defer f.Close()
	magic := make([]byte, len(recordMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return hdr, err
	}
	if string(magic) != string(recordMagic) {
		return hdr, fmt.Errorf("bad record magic")
	}
	var hlen uint32
	if err := binary.Read(f, binary.BigEndian, &hlen); err != nil {
		return hdr, err
	}
	if hlen == 0 || hlen > 1<<16 {
		return hdr, fmt.Errorf("implausible header length %d", hlen)
	}
	hb := make([]byte, hlen)
	if _, err := io.ReadFull(f, hb); err != nil {
		return hdr, err
	}
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return hdr, err
	}
	return hdr, nil
}

// write seals a payload and persists it atomically (tmp + rename), then
// enforces the size cap.
func (d *diskTier) write(key, artifactID string, v types.Variant, kind types.ProviderKind, ttl time.Duration, payload []byte) error {
	sealed, err := d.sealer.Seal(payload)
	if err != nil {
		return fmt.Errorf("seal payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	hdr := recordHeader{
		Key:         key,
		ArtifactID:  artifactID,
		Variant:     v,
		Provider:    string(kind),
		PayloadSize: int64(len(payload)),
		WrittenUnix: time.Now().Unix(),
		TTLSec:      int64(ttl / time.Second),
		SHA256:      hex.EncodeToString(sum[:]),
	}
	hb, err := json.Marshal(hdr)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.dir, "tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(recordMagic); err != nil {
		cleanup()
		return err
	}
	if err := binary.Write(tmp, binary.BigEndian, uint32(len(hb))); err != nil {
		cleanup()
		return err
	}
	if _, err := tmp.Write(hb); err != nil {
		cleanup()
		return err
	}
	if _, err := tmp.Write(sealed); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	final := d.path(key)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return err
	}
	fi, err := os.Stat(final)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if old, ok := d.recs[key]; ok {
		d.bytes -= old.fileBytes
	}
	d.recs[key] = diskMeta{
		artifactID: artifactID,
		variant:    v,
		fileBytes:  fi.Size(),
		written:    hdr.written(),
		ttl:        ttl,
	}
	d.bytes += fi.Size()
	d.enforceCapLocked()
	diskTierBytes.Set(float64(d.bytes))
	d.mu.Unlock()
	return nil
}

// read verifies and decrypts a record. Corrupt or expired records are
// removed and reported as errNoRecord so the caller treats them as a miss.
func (d *diskTier) read(key string) (recordHeader, []byte, error) {
	path := d.path(key)
	hdr, err := readHeader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return hdr, nil, errNoRecord
		}
		d.dropCorrupt(key, err)
		return hdr, nil, errNoRecord
	}
	if hdr.expired(time.Now()) {
		d.remove(key)
		return hdr, nil, errNoRecord
	}
	b, err := os.ReadFile(path)
	if err != nil {
		d.dropCorrupt(key, err)
		return hdr, nil, errNoRecord
	}
	offset := len(recordMagic) + 4 + headerLen(b)
	if offset <= 0 || offset > len(b) {
		d.dropCorrupt(key, fmt.Errorf("truncated record"))
		return hdr, nil, errNoRecord
	}
	plain, err := d.sealer.Open(b[offset:])
	if err != nil {
		d.dropCorrupt(key, err)
		return hdr, nil, errNoRecord
	}
	sum := sha256.Sum256(plain)
	if hex.EncodeToString(sum[:]) != hdr.SHA256 || int64(len(plain)) != hdr.PayloadSize {
		d.dropCorrupt(key, fmt.Errorf("payload checksum mismatch"))
		return hdr, nil, errNoRecord
	}
	return hdr, plain, nil
}

func headerLen(b []byte) int {
	base := len(recordMagic)
	if len(b) < base+4 {
		return -1
	}
	return int(binary.BigEndian.Uint32(b[base : base+4]))
}

func (d *diskTier) dropCorrupt(key string, err error) {
	d.log.Warn().Str("key", key).Err(err).Msg("corrupt disk record removed")
	corruptRecords.Inc()
	d.remove(key)
}

func (d *diskTier) remove(key string) {
	d.mu.Lock()
	if meta, ok := d.recs[key]; ok {
		d.bytes -= meta.fileBytes
		delete(d.recs, key)
		diskTierBytes.Set(float64(d.bytes))
	}
	d.mu.Unlock()
	_ = os.Remove(d.path(key))
}

// removeByArtifact deletes every record belonging to an artifact id.
func (d *diskTier) removeByArtifact(id string) {
	d.mu.Lock()
	var victims []string
	for key, meta := range d.recs {
		if meta.artifactID == id {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		d.bytes -= d.recs[key].fileBytes
		delete(d.recs, key)
	}
	diskTierBytes.Set(float64(d.bytes))
	d.mu.Unlock()
	for _, key := range victims {
		_ = os.Remove(d.path(key))
	}
}

// enforceCapLocked trims oldest-written records down to capTrimRatio of
// the cap. Hysteresis keeps a hot tier from thrashing at the boundary.
func (d *diskTier) enforceCapLocked() {
	if d.cap <= 0 || d.bytes <= d.cap {
		return
	}
	type aged struct {
		key     string
		written time.Time
		size    int64
	}
	all := make([]aged, 0, len(d.recs))
	for key, meta := range d.recs {
		all = append(all, aged{key: key, written: meta.written, size: meta.fileBytes})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].written.Before(all[j].written) })
	target := int64(float64(d.cap) * capTrimRatio)
	for _, a := range all {
		if d.bytes <= target {
			break
		}
		delete(d.recs, a.key)
		d.bytes -= a.size
		_ = os.Remove(d.path(a.key))
		d.log.Debug().Str("key", a.key).Msg("disk record trimmed for capacity")
	}
}

// sweepExpired removes TTL-expired records.
func (d *diskTier) sweepExpired(now time.Time) {
	d.mu.Lock()
	var victims []string
	for key, meta := range d.recs {
		if meta.ttl > 0 && now.Sub(meta.written) > meta.ttl {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		d.bytes -= d.recs[key].fileBytes
		delete(d.recs, key)
	}
	diskTierBytes.Set(float64(d.bytes))
	d.mu.Unlock()
	for _, key := range victims {
		_ = os.Remove(d.path(key))
	}
}

func (d *diskTier) stats() (records int, bytes int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recs), d.bytes
}
