// Package magic is the canonical inventory of Cisco magic constants and
// delimiter bytes used to recognize structures inside IOS images and core
// dumps.
package magic

// Region and heap-block markers (core dump side).
var (
	Regions     = []byte{0xDE, 0xAD, 0x12, 0x34}
	BlockBegin  = []byte{0xAB, 0x12, 0x34, 0xCD}
	BlockFree   = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	ProcessEnd  = []byte{0xBE, 0xEF, 0xCA, 0xFE}
	RegionsVers = []byte{0x00, 0x00, 0x00, 0x05}
)

// Numeric forms of the same markers, as they appear unpacked from a
// big-endian uint32 header word.
const (
	BlockBeginWord  uint32 = 0xAB1234CD
	BlockCanaryWord uint32 = 0xFD0110DF
	BlockFreeWord   uint32 = 0xDEADBEEF
)

// BlockCanary is the trailing magic word written at the end of an in-use
// block with a nonzero reference count.
var BlockCanary = []byte{0xFD, 0x01, 0x10, 0xDF}

// Image (ELF payload) markers.
var (
	FeedFace = []byte{0xFE, 0xED, 0xFA, 0xCE}
	FadeFad1 = []byte{0xFA, 0xDE, 0xFA, 0xD1, 0x00, 0x00, 0x00, 0x18}
)

// CW_ metadata string delimiters.
var (
	CWDelimiter = []byte("$")
	CWPrefix    = []byte("CW_")
	CWBegin     = []byte("CW_BEGIN$")
	CWEnd       = []byte("CW_END$")
)

// ARP frame signature: EtherType=ARP, HTYPE=Ethernet, PTYPE=IPv4, HLEN=6, PLEN=4.
var ARPSignature = []byte{0x08, 0x06, 0x00, 0x01, 0x08, 0x00, 0x06, 0x04}

// ELF constraints (32-bit, big-endian Cisco IOS images).
const (
	ELFMagic       = "\x7FELF"
	ELFClass32     = 1
	ELFDataMSB     = 2
	ELFHeaderSize  = 52
	ELFProgHdrSize = 32
	ELFProgHdrCnt  = 1
	ELFSectHdrSize = 40
)
