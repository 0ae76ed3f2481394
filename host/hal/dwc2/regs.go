package dwc2

// Core global register offsets.
const (
	RegGOTGCTL   = 0x000
	RegGAHBCFG   = 0x008
	RegGUSBCFG   = 0x00C
	RegGRSTCTL   = 0x010
	RegGINTSTS   = 0x014
	RegGINTMSK   = 0x018
	RegGRXSTSR   = 0x01C
	RegGRXSTSP   = 0x020
	RegGRXFSIZ   = 0x024
	RegGNPTXFSIZ = 0x028
	RegGNPTXSTS  = 0x02C
	RegGSNPSID   = 0x040
)

// Host mode register offsets.
const (
	RegHCFG     = 0x400
	RegHFIR     = 0x404
	RegHFNUM    = 0x408
	RegHAINT    = 0x414
	RegHAINTMSK = 0x418
	RegHPRT     = 0x440
)

// Per-channel register block and data FIFO windows.
const (
	RegHCBase    = 0x500
	RegHCStride  = 0x20
	OffHCCHAR    = 0x00
	OffHCSPLT    = 0x04
	OffHCINT     = 0x08
	OffHCINTMSK  = 0x0C
	OffHCTSIZ    = 0x10
	OffHCDMA     = 0x14
	RegFIFOBase  = 0x1000
	RegFIFOWidth = 0x1000
)

// HCCHAR returns the offset of the characteristics register of channel n.
func HCCHAR(n Channel) uint32 { return RegHCBase + uint32(n)*RegHCStride + OffHCCHAR }

// HCSPLT returns the offset of the split control register of channel n.
func HCSPLT(n Channel) uint32 { return RegHCBase + uint32(n)*RegHCStride + OffHCSPLT }

// HCINT returns the offset of the interrupt status register of channel n.
func HCINT(n Channel) uint32 { return RegHCBase + uint32(n)*RegHCStride + OffHCINT }

// HCINTMSK returns the offset of the interrupt mask register of channel n.
func HCINTMSK(n Channel) uint32 { return RegHCBase + uint32(n)*RegHCStride + OffHCINTMSK }

// HCTSIZ returns the offset of the transfer size register of channel n.
func HCTSIZ(n Channel) uint32 { return RegHCBase + uint32(n)*RegHCStride + OffHCTSIZ }

// HCDMA returns the offset of the DMA address register of channel n.
func HCDMA(n Channel) uint32 { return RegHCBase + uint32(n)*RegHCStride + OffHCDMA }

// FIFO returns the offset of the data FIFO window of channel n.
func FIFO(n Channel) uint32 { return RegFIFOBase + uint32(n)*RegFIFOWidth }

// Core ID signature ("OT" in the upper half of GSNPSID).
const (
	SNPSIDMask      = 0xFFFF0000
	SNPSIDSignature = 0x4F540000
)

// GAHBCFG bits.
const (
	GAHBCFGGlobalIntr = 1 << 0
)

// GUSBCFG bits.
const (
	GUSBCFGPhyIf          = 1 << 3
	GUSBCFGForceHostMode  = 1 << 29
	GUSBCFGForceDevMode   = 1 << 30
	gusbcfgModeSelectMask = GUSBCFGForceHostMode | GUSBCFGForceDevMode
)

// GRSTCTL bits.
const (
	GRSTCTLCoreSoftReset = 1 << 0
	GRSTCTLRxFIFOFlush   = 1 << 4
	GRSTCTLTxFIFOFlush   = 1 << 5
	GRSTCTLTxFIFOAll     = 0x10 << 6 // TXFNUM = all FIFOs
	GRSTCTLAHBIdle       = 1 << 31
)

// GINTSTS bits.
const (
	GINTSTSCurrentMode = 1 << 0 // 1 = host
	GINTSTSRxFIFOLevel = 1 << 4
	GINTSTSHostPort    = 1 << 24
	GINTSTSHostChannel = 1 << 25
)

// GRXSTSP fields (host mode).
const (
	GRXSTSChannelMask  = 0xF
	GRXSTSCountShift   = 4
	GRXSTSCountWidth   = 11
	GRXSTSPIDShift     = 15
	GRXSTSStatusShift  = 17
	GRXSTSStatusWidth  = 4
	RxStatusInData     = 2 // IN data packet received
	RxStatusInComplete = 3 // IN transfer completed
	RxStatusToggleErr  = 5 // data toggle error
	RxStatusHalted     = 7 // channel halted
)

// GNPTXSTS fields.
const (
	GNPTXSTSSpaceMask = 0xFFFF // free space in words
)

// HCFG bits.
const (
	HCFGClock48MHz    = 1 << 0 // FSLSPCLKSEL = 48 MHz
	HCFGFSLSOnly      = 1 << 2
	hcfgClockSelMask  = 0x3
	hfirFullSpeed48Hz = 48000 // PHY clocks per 1 ms frame
)

// HPRT bits.
const (
	HPRTConnectStatus  = 1 << 0
	HPRTConnectDetect  = 1 << 1 // write 1 to clear
	HPRTEnable         = 1 << 2 // write 1 to clear (disables the port)
	HPRTEnableChange   = 1 << 3 // write 1 to clear
	HPRTOverCurrent    = 1 << 4
	HPRTOverCurrChange = 1 << 5 // write 1 to clear
	HPRTResume         = 1 << 6
	HPRTSuspend        = 1 << 7
	HPRTReset          = 1 << 8
	HPRTPower          = 1 << 12
	HPRTSpeedShift     = 17
	HPRTSpeedWidth     = 2

	// HPRTWriteClearMask holds the bits a read-modify-write must zero so it
	// neither acknowledges events nor disables the port.
	HPRTWriteClearMask = HPRTConnectDetect | HPRTEnable | HPRTEnableChange | HPRTOverCurrChange
)

// HPRT speed field values.
const (
	HPRTSpeedHigh = 0
	HPRTSpeedFull = 1
	HPRTSpeedLow  = 2
)

// HCCHAR fields.
const (
	HCCHARMaxPacketMask = 0x7FF
	HCCHAREndpointShift = 11
	HCCHAREndpointMask  = 0xF << HCCHAREndpointShift
	HCCHARDirIn         = 1 << 15
	HCCHARLowSpeed      = 1 << 17
	HCCHARTypeShift     = 18
	HCCHARTypeMask      = 0x3 << HCCHARTypeShift
	HCCHARMultiShift    = 20
	HCCHARAddressShift  = 22
	HCCHARAddressMask   = 0x7F << HCCHARAddressShift
	HCCHAROddFrame      = 1 << 29
	HCCHARDisable       = 1 << 30
	HCCHAREnable        = 1 << 31
)

// HCTSIZ fields.
const (
	HCTSIZSizeMask     = 0x7FFFF
	HCTSIZPacketsShift = 19
	HCTSIZPacketsMask  = 0x3FF << HCTSIZPacketsShift
	HCTSIZPIDShift     = 29
	HCTSIZPIDMask      = 0x3 << HCTSIZPIDShift
	HCTSIZDoPing       = 1 << 31
)

// HCINT bits.
const (
	HCINTTransferComplete = 1 << 0
	HCINTHalted           = 1 << 1
	HCINTAHBError         = 1 << 2
	HCINTStall            = 1 << 3
	HCINTNAK              = 1 << 4
	HCINTACK              = 1 << 5
	HCINTNYET             = 1 << 6
	HCINTTransactionError = 1 << 7
	HCINTBabble           = 1 << 8
	HCINTFrameOverrun     = 1 << 9
	HCINTToggleError      = 1 << 10

	hcintAll = 0x7FF
)
