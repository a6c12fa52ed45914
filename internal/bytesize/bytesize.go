// Package bytesize parses human-readable byte sizes ("512MB", "2Gi", a bare
// integer) into a single uint64-backed type, so config fields never need a
// separate storageKB/storageMB/storageGB trio.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize represents a size in bytes that can be unmarshaled from
// human-readable strings like "1Gi", "500Mi", "100MB", or plain numbers.
//
// Supported formats:
//   - Plain numbers: 1024, 1073741824
//   - Binary units (x1024): Ki/KiB, Mi/MiB, Gi/GiB, Ti/TiB
//   - Decimal units (x1000): K/KB, M/MB, G/GB, T/TB
//   - Bytes: B
type ByteSize uint64

const (
	decimalStep ByteSize = 1000
	binaryStep  ByteSize = 1024
)

// Common byte size constants.
const (
	B  ByteSize = 1
	KB          = decimalStep
	MB          = KB * decimalStep
	GB          = MB * decimalStep
	TB          = GB * decimalStep

	KiB = binaryStep
	MiB = KiB * binaryStep
	GiB = MiB * binaryStep
	TiB = GiB * binaryStep
)

// magnitudeLetters gives the recognized unit letters in ascending order; a
// letter's zero-based position in this string plus one is the power of its
// step (k=1, m=2, g=3, t=4) applied to decimalStep or binaryStep.
const magnitudeLetters = "kmgt"

// multiplierFor resolves a lowercased unit suffix ("", "b", "k", "kb", "ki",
// "kib", ...) to the factor it scales the numeric part by.
func multiplierFor(unit string) (ByteSize, error) {
	if unit == "" || unit == "b" {
		return B, nil
	}

	power := strings.IndexByte(magnitudeLetters, unit[0])
	if power < 0 {
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}

	step := decimalStep
	switch rest := unit[1:]; rest {
	case "", "b":
	case "i", "ib":
		step = binaryStep
	default:
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}

	m := B
	for i := 0; i <= power; i++ {
		m *= step
	}
	return m, nil
}

// splitNumberAndUnit separates a trimmed, lowercased size string into its
// leading numeric run and trailing unit suffix.
func splitNumberAndUnit(s string) (numStr, unit string) {
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if (c >= '0' && c <= '9') || c == '.' {
			break
		}
		end--
	}
	return strings.TrimSpace(s[:end]), strings.TrimSpace(s[end:])
}

// Parse parses a human-readable byte size string into a ByteSize value.
func Parse(s string) (ByteSize, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	numStr, unit := splitNumberAndUnit(trimmed)
	if numStr == "" {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}

	mult, err := multiplierFor(unit)
	if err != nil {
		return 0, err
	}

	if strings.Contains(numStr, ".") {
		num, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
		}
		return ByteSize(num * float64(mult)), nil
	}

	num, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", numStr)
	}
	return ByteSize(num) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so ByteSize can be used
// directly in a Viper/mapstructure-decoded config struct.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// String returns a human-readable representation of the byte size.
func (b ByteSize) String() string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.2fTiB", float64(b)/float64(TiB))
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// Int64 returns the ByteSize as an int64 (the width filecache.Config uses
// for MaxByteSize). May overflow for absurd configured values.
func (b ByteSize) Int64() int64 {
	return int64(b)
}
