//go:build linux

package cryptodev

import (
	"bytes"
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"golang.org/x/sys/unix"
)

// maxAlgName is CRYPTODEV_MAX_ALG_NAME
const maxAlgName = 64

// siopFlagKernelDriverOnly is set for hardware backed drivers
const siopFlagKernelDriverOnly = 1

// sessionOp must match struct session_op in crypto/cryptodev.h
type sessionOp struct {
	cipher    uint32
	mac       uint32
	keylen    uint32
	key       unsafe.Pointer
	mackeylen uint32
	mackey    unsafe.Pointer
	ses       uint32
}

// cryptOp must match struct crypt_op in crypto/cryptodev.h
type cryptOp struct {
	ses   uint32
	op    uint16
	flags uint16
	len   uint32
	src   unsafe.Pointer
	dst   unsafe.Pointer
	mac   unsafe.Pointer
	iv    unsafe.Pointer
}

type algInfo struct {
	craName       [maxAlgName]byte
	craDriverName [maxAlgName]byte
}

// sessionInfoOp must match struct session_info_op in crypto/cryptodev.h
type sessionInfoOp struct {
	ses        uint32
	cipherInfo algInfo
	hashInfo   algInfo
	alignmask  uint16
	flags      uint32
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | uintptr('c')<<iocTypeShift | nr
}

var (
	ciocgsession  = ioc(iocRead|iocWrite, 102, unsafe.Sizeof(sessionOp{}))
	ciocfsession  = ioc(iocWrite, 103, unsafe.Sizeof(uint32(0)))
	cioccrypt     = ioc(iocRead|iocWrite, 104, unsafe.Sizeof(cryptOp{}))
	ciocgsessinfo = ioc(iocRead|iocWrite, 107, unsafe.Sizeof(sessionInfoOp{}))
)

// kernelFacility is the cryptodev-linux device
type kernelFacility struct {
	fd int
}

func openKernel(path string) (Facility, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.WithMessagef(err, "open(%s)", path)
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return nil, errors.WithMessage(err, "fcntl(F_SETFD)")
	}

	return &kernelFacility{fd: fd}, nil
}

func (k *kernelFacility) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(k.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (k *kernelFacility) NewSession(req *SessionRequest) (*SessionInfo, error) {
	sess := sessionOp{
		mac: uint32(req.Algorithm),
	}

	var key []byte
	if len(req.Key) > 0 {
		key = append([]byte(nil), req.Key...)
		sess.mackeylen = uint32(len(key))
		sess.mackey = unsafe.Pointer(&key[0])
	}

	err := k.ioctl(ciocgsession, unsafe.Pointer(&sess))
	runtime.KeepAlive(key)
	if err != nil {
		return nil, errors.WithMessage(err, "ioctl(CIOCGSESSION)")
	}

	info := &SessionInfo{
		ID:   sess.ses,
		Name: req.Algorithm.String(),
	}

	siop := sessionInfoOp{ses: sess.ses}
	if err := k.ioctl(ciocgsessinfo, unsafe.Pointer(&siop)); err != nil {
		// older cryptodev modules have no CIOCGSESSINFO, assume no alignment
		logger.KV(xlog.DEBUG, "reason", "sessinfo", "session", sess.ses, "err", err.Error())
		return info, nil
	}

	info.Alignmask = siop.alignmask
	info.Name = cstring(siop.hashInfo.craName[:])
	info.Driver = cstring(siop.hashInfo.craDriverName[:])
	info.Hardware = siop.flags&siopFlagKernelDriverOnly != 0
	return info, nil
}

func (k *kernelFacility) Crypt(req *CryptRequest) error {
	if len(req.MAC) == 0 {
		return errors.New("digest buffer is empty")
	}

	op := cryptOp{
		ses: req.Session,
		len: uint32(len(req.Src)),
		mac: unsafe.Pointer(&req.MAC[0]),
	}
	if len(req.Src) > 0 {
		op.src = unsafe.Pointer(&req.Src[0])
	}

	err := k.ioctl(cioccrypt, unsafe.Pointer(&op))
	runtime.KeepAlive(req.Src)
	runtime.KeepAlive(req.MAC)
	if err != nil {
		return errors.WithMessage(err, "ioctl(CIOCCRYPT)")
	}
	return nil
}

func (k *kernelFacility) FreeSession(id uint32) error {
	ses := id
	if err := k.ioctl(ciocfsession, unsafe.Pointer(&ses)); err != nil {
		return errors.WithMessage(err, "ioctl(CIOCFSESSION)")
	}
	return nil
}

func (k *kernelFacility) Close() error {
	if err := unix.Close(k.fd); err != nil {
		return errors.WithMessage(err, "close")
	}
	return nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
