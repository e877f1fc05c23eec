package qhy

import (
	"fmt"
	"strings"

	"github.com/nasa-jpl/qhyccd/util"
)

// BlockSize is the size of the camera register block in bytes
const BlockSize = 64

// Block is the wire form of the camera registers
type Block [BlockSize]byte

// Registers is the full set of hardware register fields of one exposure.
// It is rebuilt from scratch before every exposure.
type Registers struct {
	Gain   uint8
	Offset uint8

	// ExposureMs is the exposure time in milliseconds, 24 bits on the wire
	ExposureMs uint32

	HBin uint8
	VBin uint8

	LineSize           uint16
	VerticalSize       uint16
	SkipTop            uint16
	SkipBottom         uint16
	LiveVideoBeginLine uint16

	// PatchNumber is the number of dummy pixels the sensor emits at the end of
	// the frame to fill the last patch
	PatchNumber uint16

	AntiInterlace uint16
	MultiFieldBin uint8
	ClockAdjust   uint16

	AmpVoltage    uint8
	DownloadSpeed DownloadSpeed
	TgateMode     uint8
	ShortExposure uint8
	VSub          uint8
	Clamp         uint8
	TransferBit   uint8

	TopSkipNull   uint8
	TopSkipPixels uint16

	MechanicalShutterMode uint8
	DownloadCloseTEC      uint8

	// WindowHeater is 0..15
	WindowHeater uint8

	// MotorHeating is 0..2
	MotorHeating uint8

	SDRAMMaxSize uint8
	Trigger      uint8
}

// register offsets within the block
const (
	regGain          = 0
	regOffset        = 1
	regTimeH         = 2
	regTimeM         = 3
	regTimeL         = 4
	regHBin          = 5
	regVBin          = 6
	regLineSize      = 7
	regVerticalSize  = 9
	regSkipTop       = 11
	regSkipBottom    = 13
	regLiveVideo     = 15
	regPatchNumber   = 17
	regAntiInterlace = 19
	regMultiFieldBin = 22
	regClockAdjust   = 29
	regAmpVoltage    = 32
	regDownloadSpeed = 33
	regTgateMode     = 35
	regShortExposure = 36
	regVSub          = 37
	regClamp         = 38
	regTransferBit   = 42
	regTopSkipNull   = 46
	regTopSkipPix    = 47
	regShutterMode   = 51
	regCloseTEC      = 52
	regHeaters       = 53
	regSDRAMMaxSize  = 58
	regTrigger       = 63
)

func put16(b *Block, off int, v uint16) {
	b[off] = util.MSB(v)
	b[off+1] = util.LSB(v)
}

func get16(b *Block, off int) uint16 {
	return uint16(b[off])*256 + uint16(b[off+1])
}

// Encode packs the registers into the wire block.  Unlisted bytes are zero.
func Encode(r Registers) Block {
	var b Block

	// the camera takes exposure time as three base-256 digits, not a shifted 24-bit int.
	// mid is truncated to a byte before high is computed from it.
	t := r.ExposureMs
	low := uint8(t % 256)
	mid := uint8((t - uint32(low)) / 256)
	high := uint8((t - uint32(low) - uint32(mid)*256) / 65536)

	b[regGain] = r.Gain
	b[regOffset] = r.Offset
	b[regTimeH] = high
	b[regTimeM] = mid
	b[regTimeL] = low
	b[regHBin] = r.HBin
	b[regVBin] = r.VBin
	put16(&b, regLineSize, r.LineSize)
	put16(&b, regVerticalSize, r.VerticalSize)
	put16(&b, regSkipTop, r.SkipTop)
	put16(&b, regSkipBottom, r.SkipBottom)
	put16(&b, regLiveVideo, r.LiveVideoBeginLine)
	put16(&b, regPatchNumber, r.PatchNumber)
	put16(&b, regAntiInterlace, r.AntiInterlace)
	b[regMultiFieldBin] = r.MultiFieldBin
	put16(&b, regClockAdjust, r.ClockAdjust)
	b[regAmpVoltage] = r.AmpVoltage
	b[regDownloadSpeed] = byte(r.DownloadSpeed)
	b[regTgateMode] = r.TgateMode
	b[regShortExposure] = r.ShortExposure
	b[regVSub] = r.VSub
	b[regClamp] = r.Clamp
	b[regTransferBit] = r.TransferBit
	b[regTopSkipNull] = r.TopSkipNull
	put16(&b, regTopSkipPix, r.TopSkipPixels)
	b[regShutterMode] = r.MechanicalShutterMode
	b[regCloseTEC] = r.DownloadCloseTEC
	b[regHeaters] = (r.WindowHeater&0x0f)<<4 | r.MotorHeating&0x0f
	b[regSDRAMMaxSize] = r.SDRAMMaxSize
	b[regTrigger] = r.Trigger
	return b
}

// Decode unpacks a wire block.  It is the inverse of Encode for exposure
// times below 2^24 ms and heater levels below 16.
func Decode(b Block) Registers {
	return Registers{
		Gain:                  b[regGain],
		Offset:                b[regOffset],
		ExposureMs:            uint32(b[regTimeH])*65536 + uint32(b[regTimeM])*256 + uint32(b[regTimeL]),
		HBin:                  b[regHBin],
		VBin:                  b[regVBin],
		LineSize:              get16(&b, regLineSize),
		VerticalSize:          get16(&b, regVerticalSize),
		SkipTop:               get16(&b, regSkipTop),
		SkipBottom:            get16(&b, regSkipBottom),
		LiveVideoBeginLine:    get16(&b, regLiveVideo),
		PatchNumber:           get16(&b, regPatchNumber),
		AntiInterlace:         get16(&b, regAntiInterlace),
		MultiFieldBin:         b[regMultiFieldBin],
		ClockAdjust:           get16(&b, regClockAdjust),
		AmpVoltage:            b[regAmpVoltage],
		DownloadSpeed:         DownloadSpeed(b[regDownloadSpeed]),
		TgateMode:             b[regTgateMode],
		ShortExposure:         b[regShortExposure],
		VSub:                  b[regVSub],
		Clamp:                 b[regClamp],
		TransferBit:           b[regTransferBit],
		TopSkipNull:           b[regTopSkipNull],
		TopSkipPixels:         get16(&b, regTopSkipPix),
		MechanicalShutterMode: b[regShutterMode],
		DownloadCloseTEC:      b[regCloseTEC],
		WindowHeater:          b[regHeaters] >> 4,
		MotorHeating:          b[regHeaters] & 0x0f,
		SDRAMMaxSize:          b[regSDRAMMaxSize],
		Trigger:               b[regTrigger],
	}
}

// Dump formats the block as rows of 16 hex bytes prefixed by their offset
func (b Block) Dump() string {
	var sb strings.Builder
	for i, v := range b {
		if i%16 == 0 {
			if i != 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%02d:", i)
		}
		fmt.Fprintf(&sb, " %02x", v)
	}
	return sb.String()
}
