package consts

const (
	DefaultPhotoDir    = "photos"
	DefaultPhotoPrefix = "photo_"
	DefaultInfoFile    = "info.json"
	DefaultVideoDir    = "videos"

	DefaultImageExt = ".jpg"
	DefaultVideoExt = ".avi"

	DefaultFilePerm = 0660
	DefaultDirPerm  = 0750

	// DefaultMinFreeBytes below which the storage reports itself unhealthy.
	DefaultMinFreeBytes = 16 << 20
)
