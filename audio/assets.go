package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AltairaLabs/IntakeKit/logger"
)

// Sentinel errors for asset loading.
var (
	ErrAssetNotFound = errors.New("audio asset not found")
	ErrInvalidWAV    = errors.New("invalid WAV data")
)

// Asset is a decoded audio clip ready for playback.
// Assets are loaded once at startup and treated as immutable; callers must
// not modify PCM.
type Asset struct {
	Name       string
	PCM        []byte // 16-bit little-endian PCM
	SampleRate int
	Channels   int
}

// AssetTable holds preloaded feedback sounds keyed by name.
// The table is built once and injected into sessions; it is safe for
// concurrent reads and is never mutated after construction.
type AssetTable struct {
	assets map[string]*Asset
}

// NewAssetTable builds a table from pre-decoded assets.
func NewAssetTable(assets ...*Asset) *AssetTable {
	table := make(map[string]*Asset, len(assets))
	for _, a := range assets {
		table[a.Name] = a
	}
	return &AssetTable{assets: table}
}

// LoadAssets reads every .wav file in dir into a new table.
// Asset names are the file basenames without the extension.
func LoadAssets(dir string) (*AssetTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading asset directory: %w", err)
	}

	table := make(map[string]*Asset)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path) // #nosec G304 -- operator-configured asset dir
		if err != nil {
			return nil, fmt.Errorf("reading asset %s: %w", entry.Name(), err)
		}

		name := strings.TrimSuffix(entry.Name(), ".wav")
		asset, err := DecodeWAV(name, data)
		if err != nil {
			return nil, fmt.Errorf("decoding asset %s: %w", entry.Name(), err)
		}

		table[name] = asset
		logger.Debug("loaded audio asset",
			"name", name,
			"sample_rate", asset.SampleRate,
			"bytes", len(asset.PCM))
	}

	return &AssetTable{assets: table}, nil
}

// Get returns the named asset.
func (t *AssetTable) Get(name string) (*Asset, error) {
	asset, ok := t.assets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	return asset, nil
}

// Names returns the names of all loaded assets.
func (t *AssetTable) Names() []string {
	names := make([]string, 0, len(t.assets))
	for name := range t.assets {
		names = append(names, name)
	}
	return names
}

// Len returns the number of loaded assets.
func (t *AssetTable) Len() int {
	return len(t.assets)
}

const (
	wavHeaderSize  = 44
	wavFormatPCM   = 1
	wavBitsPCM16   = 16
	riffChunkStart = 12
)

// DecodeWAV extracts PCM16 samples from a RIFF/WAVE byte stream.
// Only uncompressed 16-bit PCM is supported, which covers the telephony
// assets this service ships with.
func DecodeWAV(name string, data []byte) (*Asset, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	asset := &Asset{Name: name}
	haveFmt := false

	// Walk the chunk list; fmt and data can appear in any order and other
	// chunks (LIST, fact) may be interleaved.
	offset := riffChunkStart
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkSize > len(data) {
			return nil, fmt.Errorf("%w: chunk %q overruns file", ErrInvalidWAV, chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != wavFormatPCM {
				return nil, fmt.Errorf("%w: unsupported format %d", ErrInvalidWAV, format)
			}
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if bits != wavBitsPCM16 {
				return nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, bits)
			}
			asset.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			asset.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			pcm := make([]byte, chunkSize)
			copy(pcm, data[body:body+chunkSize])
			asset.PCM = pcm
		}

		// Chunks are word-aligned
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if !haveFmt || asset.PCM == nil {
		return nil, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidWAV)
	}
	return asset, nil
}
