package cryptoutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/minio/sio"
)

const (
	sealMagic   = "PBU1"
	sealVersion = uint16(1)
	nonceSize   = 12
	headerSize  = len(sealMagic) + 2 + nonceSize
)

// ErrSealed is returned by Open for payloads that were not produced by Seal.
var ErrSealed = errors.New("not a sealed payload")

func darConfig(key []byte) sio.Config {
	return sio.Config{
		Key:          key,
		MinVersion:   sio.Version20,
		CipherSuites: []byte{sio.AES_256_GCM},
	}
}

// EncryptWriter encrypts everything written to it into w (DARE format). Close
// must be called to flush the final package.
func EncryptWriter(w io.Writer, key []byte) (io.WriteCloser, error) {
	return sio.EncryptWriter(w, darConfig(key))
}

// DecryptReader reverses EncryptWriter.
func DecryptReader(r io.Reader, key []byte) (io.Reader, error) {
	return sio.DecryptReader(r, darConfig(key))
}

// Seal encrypts a small payload, such as a config file, with AES-GCM behind a
// versioned header.
func Seal(plain, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	buf.WriteString(sealMagic)
	if err := binary.Write(buf, binary.BigEndian, sealVersion); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, plain, []byte(sealMagic)))
	return buf.Bytes(), nil
}

// Open decrypts a payload produced by Seal.
func Open(sealed, key []byte) ([]byte, error) {
	if len(sealed) < headerSize || string(sealed[:len(sealMagic)]) != sealMagic {
		return nil, ErrSealed
	}
	if ver := binary.BigEndian.Uint16(sealed[len(sealMagic):]); ver != sealVersion {
		return nil, fmt.Errorf("unsupported sealed version %d", ver)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := sealed[len(sealMagic)+2 : headerSize]
	return aead.Open(nil, nonce, sealed[headerSize:], []byte(sealMagic))
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
