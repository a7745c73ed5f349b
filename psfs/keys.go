package psfs

import (
	"encoding/hex"
)

const (
	PS3GpkgKeyName          = "ps3_gpkg_key"
	PSPGpkgKeyName          = "psp_gpkg_key"
	PSP2GpkgKey2Name        = "psp2_gpkg_key_2"
	PSP2GpkgKey3Name        = "psp2_gpkg_key_3"
	PSP2GpkgKey4Name        = "psp2_gpkg_key_4"
	PfdSysconManagerKeyName = "pfd_syscon_manager_key"
	PfdKeygenKeyName        = "pfd_keygen_key"
	IrdData2KeyName         = "ird_data2_key"
	IrdData2IVName          = "ird_data2_iv"
)

var defaultKeys = map[string]string{
	PS3GpkgKeyName:          "2e7b71d7c9c9a14ea3221f188828b8f8",
	PSPGpkgKeyName:          "07f2c68290b50d2c33818d709b60e62b",
	PSP2GpkgKey2Name:        "e31a70c9ce1dd72bf3c0622963f2eccb",
	PSP2GpkgKey3Name:        "423aca3a2bd5649f9686abad6fd8801f",
	PSP2GpkgKey4Name:        "af07fd59652527baf13389668b17d9ea",
	PfdSysconManagerKeyName: "d413b89663e1fe9f75143d3bb4565274",
	PfdKeygenKeyName:        "6b1acea246b745fd8f93763b920594cd53483b82",
	IrdData2KeyName:         "7cdd0e02076efe4599b1b82c359919b3",
	IrdData2IVName:          "2226928d44032f436afd267e748b2393",
}

// KeyRing holds the static keys the formats are decrypted with. It is
// filled once by the caller and only read afterwards.
type KeyRing struct {
	keys map[string][]byte
}

// DefaultKeyRing returns the well known public keys.
func DefaultKeyRing() *KeyRing {
	k := &KeyRing{keys: map[string][]byte{}}
	for name, value := range defaultKeys {
		b, _ := hex.DecodeString(value)
		k.keys[name] = b
	}
	return k
}

func (k *KeyRing) GetKey(keyName string) []byte {
	if k == nil {
		return nil
	}
	return k.keys[keyName]
}

// SetKey replaces a key. An empty value removes it.
func (k *KeyRing) SetKey(keyName string, value []byte) {
	if len(value) == 0 {
		delete(k.keys, keyName)
		return
	}
	k.keys[keyName] = append([]byte{}, value...)
}

func (k *KeyRing) Names() []string {
	names := make([]string, 0, len(k.keys))
	for name := range k.keys {
		names = append(names, name)
	}
	return names
}

func (k *KeyRing) requireKey(keyName string) ([]byte, error) {
	key := k.GetKey(keyName)
	if len(key) == 0 {
		return nil, newError(MissingKeyMaterial, keyName, nil, nil)
	}
	return key, nil
}
