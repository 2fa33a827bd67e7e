package camera

import "testing"

func TestMatches(t *testing.T) {
	info := DeviceInfo{
		SerialNumber: "0815-0001",
		ModelName:    "Emulation",
		DeviceClass:  ClassGigE,
		IPAddress:    "192.168.0.11",
	}
	cases := []struct {
		name   string
		filter DeviceInfo
		want   bool
	}{
		{"empty filter matches all", DeviceInfo{}, true},
		{"serial", DeviceInfo{SerialNumber: "0815-0001"}, true},
		{"wrong serial", DeviceInfo{SerialNumber: "0815-0002"}, false},
		{"class and model", DeviceInfo{DeviceClass: ClassGigE, ModelName: "Emulation"}, true},
		{"one field off", DeviceInfo{DeviceClass: ClassUSB, ModelName: "Emulation"}, false},
		{"field the device lacks", DeviceInfo{UserDefinedName: "left"}, false},
	}
	for _, c := range cases {
		if got := info.Matches(c.filter); got != c.want {
			t.Errorf("%s: Matches = %v, want %v", c.name, got, c.want)
		}
	}
}
