package types

// GeometryStats represents analyzed mesh statistics for a 3D design file
type GeometryStats struct {
	TriangleCount int     `json:"triangle_count"`
	VertexCount   int     `json:"vertex_count"`
	WidthMM       float64 `json:"width_mm"`
	HeightMM      float64 `json:"height_mm"`
	DepthMM       float64 `json:"depth_mm"`
	VolumeCM3     float64 `json:"volume_cm3"`
	SurfaceCM2    float64 `json:"surface_cm2"`
	Watertight    bool    `json:"watertight"`
	Units         string  `json:"units,omitempty"`
}

// AIMetadataRequest carries everything the AI backend needs to describe a design
type AIMetadataRequest struct {
	PreviewImage []byte   `json:"-"`
	ImageFormat  string   `json:"image_format,omitempty"`
	FilenameHint string   `json:"filename_hint"`
	FolderHint   string   `json:"folder_hint,omitempty"`
	TextHint     string   `json:"text_hint,omitempty"`
	FileType     string   `json:"file_type"`
	AllowedTags  []string `json:"allowed_tags,omitempty"`
}

// AIMetadataResult is the normalized shape we want back from the AI backend.
// Generated is false when the extractor fell back to derived metadata.
type AIMetadataResult struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	Generated   bool     `json:"generated"`
}

// PreviewResult represents a rendered preview along with its perceptual hash
type PreviewResult struct {
	Image          []byte `json:"-"`
	Format         string `json:"format"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	PerceptualHash uint64 `json:"perceptual_hash,omitempty"`
}
