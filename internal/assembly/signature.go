package assembly

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"go.mozilla.org/pkcs7"

	"resextractor/internal/pesniff"
)

const winCertTypePKCSSignedData = 0x0002

// Signer returns the common name of the Authenticode signing certificate, or "" when the image
// carries no signature. The security directory address is a file offset, not an RVA.
func (a *Assembly) Signer() (string, error) {
	if len(a.directory) <= pesniff.DirectorySecurity {
		return "", nil
	}
	dir := a.directory[pesniff.DirectorySecurity]
	if dir.VirtualAddress == 0 || dir.Size < 8 {
		return "", nil
	}
	end := uint64(dir.VirtualAddress) + uint64(dir.Size)
	if end > uint64(len(a.data)) {
		return "", errors.New("security directory is outside the file")
	}
	cert := a.data[dir.VirtualAddress:end]

	length := binary.LittleEndian.Uint32(cert[0:4])
	certType := binary.LittleEndian.Uint16(cert[6:8])
	if certType != winCertTypePKCSSignedData {
		return "", errors.Errorf("unsupported certificate type 0x%x", certType)
	}
	if length < 8 || uint64(length) > uint64(len(cert)) {
		return "", errors.New("certificate entry is truncated")
	}

	p7, err := pkcs7.Parse(cert[8:length])
	if err != nil {
		return "", errors.Wrap(err, "unable to parse signature")
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return "", errors.New("signature has no single signer")
	}
	return signer.Subject.CommonName, nil
}
