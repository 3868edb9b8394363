package common

// Decoder turns one serialized resource payload into the files that end up on disk.
type Decoder interface {
	Name() string
	CanDecode() bool
	Decode() ([]Payload, error)
}

// Payload is one decoded file body and the extension it should be written with.
type Payload struct {
	Data      []byte
	Extension string
}

type DecoderFactory interface {
	Build(typeName string, payload []byte) Decoder
}

type CPUArch int

const (
	AMD64 CPUArch = iota
	X86
	MultiArch
	ARM64
	Unknown
)

func ArchToString(arch CPUArch) string {
	if arch == AMD64 {
		return "AMD64"
	} else if arch == X86 {
		return "X86"
	} else if arch == MultiArch {
		return "AnyCPU (x86 + AMD64)"
	} else if arch == ARM64 {
		return "ARM64"
	}
	return "UNKNOWN"
}

// Compatible reports whether code built for other can be loaded next to code built for arch.
func (arch CPUArch) Compatible(other CPUArch) bool {
	if arch == Unknown || other == Unknown {
		return false
	}
	return arch == other || arch == MultiArch || other == MultiArch
}

func (arch CPUArch) String() string {
	return ArchToString(arch)
}
