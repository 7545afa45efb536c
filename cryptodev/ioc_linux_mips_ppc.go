//go:build linux && (mips || mipsle || mips64 || mips64le || ppc64 || ppc64le)

package cryptodev

// mips and powerpc use three direction bits and a 13 bit size
const (
	iocRead      = 2
	iocWrite     = 4
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 29
)
