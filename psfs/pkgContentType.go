package psfs

import "fmt"

type ContentType uint32

const (
	ContentTypeUnknown       ContentType = 0x01
	ContentTypeGameData      ContentType = 0x04
	ContentTypeGameExec      ContentType = 0x05
	ContentTypePS1Emu        ContentType = 0x06
	ContentTypePSPPCEngine   ContentType = 0x07
	ContentTypeTheme         ContentType = 0x09
	ContentTypeWidget        ContentType = 0x0A
	ContentTypeLicense       ContentType = 0x0B
	ContentTypeVSHModule     ContentType = 0x0C
	ContentTypePSNAvatar     ContentType = 0x0D
	ContentTypePSPGo         ContentType = 0x0E
	ContentTypeMinis         ContentType = 0x0F
	ContentTypeNeoGeo        ContentType = 0x10
	ContentTypeVMC           ContentType = 0x11
	ContentTypePS2Classic    ContentType = 0x12
	ContentTypePSPRemastered ContentType = 0x14
	ContentTypePSP2GD        ContentType = 0x15
	ContentTypePSP2AC        ContentType = 0x16
	ContentTypePSP2LA        ContentType = 0x17
	ContentTypePSM           ContentType = 0x18
	ContentTypeWT            ContentType = 0x19
	ContentTypePSM2          ContentType = 0x1D
	ContentTypePSP2Theme     ContentType = 0x1F
)

var contentTypeNames = map[ContentType]string{
	ContentTypeUnknown:       "UNKNOWN",
	ContentTypeGameData:      "GAME_DATA",
	ContentTypeGameExec:      "GAME_EXEC",
	ContentTypePS1Emu:        "PS1_EMU",
	ContentTypePSPPCEngine:   "PSP_PC_ENGINE",
	ContentTypeTheme:         "THEME",
	ContentTypeWidget:        "WIDGET",
	ContentTypeLicense:       "LICENSE",
	ContentTypeVSHModule:     "VSH_MODULE",
	ContentTypePSNAvatar:     "PSN_AVATAR",
	ContentTypePSPGo:         "PSP_GO",
	ContentTypeMinis:         "MINIS",
	ContentTypeNeoGeo:        "NEOGEO",
	ContentTypeVMC:           "VMC",
	ContentTypePS2Classic:    "PS2_CLASSIC",
	ContentTypePSPRemastered: "PSP_REMASTERED",
	ContentTypePSP2GD:        "PSP2GD",
	ContentTypePSP2AC:        "PSP2AC",
	ContentTypePSP2LA:        "PSP2LA",
	ContentTypePSM:           "PSM",
	ContentTypeWT:            "WT",
	ContentTypePSM2:          "PSM",
	ContentTypePSP2Theme:     "PSP2_THEME",
}

func (c ContentType) String() string {
	if name, ok := contentTypeNames[c]; ok {
		return name
	}
	switch c {
	case 0x02, 0x03, 0x08, 0x13:
		return "EMPTY"
	}
	return fmt.Sprintf("ContentType(0x%X)", uint32(c))
}

// InstallPath is where the PS3 places this kind of content. LICENSE and
// PSN_AVATAR live under the active user's home folder.
func (c ContentType) InstallPath(currentUser string) string {
	switch c {
	case ContentTypeUnknown, ContentTypeGameData, ContentTypeGameExec, ContentTypePS1Emu,
		ContentTypePSPPCEngine, ContentTypePSPGo, ContentTypeMinis, ContentTypeNeoGeo,
		ContentTypePS2Classic, ContentTypePSPRemastered, ContentTypeWT:
		return "/dev_hdd0/game/"
	case ContentTypeTheme:
		return "/dev_hdd0/theme"
	case ContentTypeWidget:
		return "/dev_hdd0/widget"
	case ContentTypeLicense:
		return fmt.Sprintf("/dev_hdd0/home/%v/exdata", currentUser)
	case ContentTypeVSHModule:
		return "/dev_hdd0/vsh/modules/"
	case ContentTypePSNAvatar:
		return fmt.Sprintf("/dev_hdd0/home/%v/psn_avatar", currentUser)
	case ContentTypeVMC:
		return "/dev_hdd0/tmp/vmc/"
	}
	return ""
}

type DrmType uint32

const (
	DrmTypeNetwork DrmType = 0x01
	DrmTypeLocal   DrmType = 0x02
	DrmTypeFree    DrmType = 0x03
	DrmTypePSP     DrmType = 0x04
	DrmTypeFree2   DrmType = 0x05
	DrmTypePSP2    DrmType = 0x0D
)

func (d DrmType) String() string {
	switch d {
	case DrmTypeNetwork:
		return "NETWORK"
	case DrmTypeLocal:
		return "LOCAL"
	case DrmTypeFree, DrmTypeFree2:
		return "FREE"
	case DrmTypePSP:
		return "PSP"
	case DrmTypePSP2:
		return "PSP2"
	}
	return fmt.Sprintf("DrmType(0x%X)", uint32(d))
}
