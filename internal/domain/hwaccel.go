package domain

type Accelerator string

const (
	AccelNone         Accelerator = "none"
	AccelCUDA         Accelerator = "cuda"
	AccelVideoToolbox Accelerator = "videotoolbox"
	AccelVAAPI        Accelerator = "vaapi"
	AccelQSV          Accelerator = "qsv"
)

// HWAccelConfig describes the H.264 encoder used for exports. Composited
// frames are uploaded as raw RGBA, so UploadFilter converts them into the
// encoder's native surface format when a device encoder is used.
type HWAccelConfig struct {
	Accelerator  Accelerator
	DeviceFlags  []string
	EncodeFlags  []string
	Encoder      string
	UploadFilter string
	PixelFormat  string
}
