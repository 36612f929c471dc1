package utils

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/meinhoongagan/service-marketplace/config"
)

// Uploader stores profile pictures on Cloudinary.
type Uploader struct {
	cld    *cloudinary.Cloudinary
	preset string
	folder string
}

func NewUploader(cfg config.CloudinaryConfig) (*Uploader, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	return &Uploader{cld: cld, preset: cfg.UploadPreset, folder: cfg.Folder}, nil
}

// UploadToCloudinary uploads file (a path, URL or reader) and returns the
// secure URL. Images are cropped to a 200x200 thumbnail.
func (u *Uploader) UploadToCloudinary(ctx context.Context, file any, publicID string) (string, error) {
	params := uploader.UploadParams{
		PublicID:     publicID,
		Folder:       u.folder,
		UploadPreset: u.preset,
	}

	if name, ok := file.(string); !ok || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		params.Transformation = "c_thumb,w_200,h_200"
	}

	resp, err := u.cld.Upload.Upload(ctx, file, params)
	if err != nil {
		return "", err
	}
	return resp.SecureURL, nil
}
