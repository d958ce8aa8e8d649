package receipt

var imageFormats = []string{"JPEG", "PNG", "GIF", "BMP", "TIFF", "WebP", "HEIC", "HEIF", "PDF"}

// Formats describes what the processor accepts and produces
type Formats struct {
	InputFormats  []string `json:"input_formats"`
	ImageFormats  []string `json:"image_formats"`
	OutputFormats []string `json:"output_formats"`
	Features      []string `json:"supported_receipt_features"`
	Languages     []string `json:"supported_languages"`
	Strategies    []string `json:"strategies"`
}

// SupportedFormats returns the accepted inputs, outputs and the receipt
// fields the parser looks for
func (p *Processor) SupportedFormats() Formats {
	strategies := make([]string, 0, 2)
	for _, s := range p.extractor.Strategies() {
		strategies = append(strategies, string(s))
	}

	return Formats{
		InputFormats:  []string{"image bytes", "base64 image string", "data URL", "decoded image"},
		ImageFormats:  append([]string(nil), imageFormats...),
		OutputFormats: []string{"JSON", "CSV"},
		Features: []string{
			"Store name and branch",
			"TIN number",
			"Date and time",
			"Items and prices",
			"VAT details",
			"Total amount",
			"BIR accreditation",
			"Serial number",
			"Deductible amounts",
		},
		Languages: []string{
			"English",
			"Tagalog (partial)",
			"Mixed English-Tagalog",
		},
		Strategies: strategies,
	}
}
