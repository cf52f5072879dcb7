package rxpdf

import (
	"bytes"
	"image"
	"image/color"
	"strings"
	"time"
)

// Entry is one prescription entry as rendered.
type Entry struct {
	Text        string     `json:"text"`
	Attachments []string   `json:"attachments"`
	IsEdited    bool       `json:"isEdited"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// Doctor is the doctor display data.
type Doctor struct {
	Name       string
	Speciality string
}

// Patient is the patient display data.
type Patient struct {
	Name   string
	Age    string
	Gender string
}

// Input is everything needed to assemble one document.
type Input struct {
	Entries  []Entry
	Doctor   Doctor
	Patient  Patient
	SlotDate string
	SlotTime string
	// Logo is an optional encoded image drawn above the title.
	Logo []byte
	// Images holds decoded inline images keyed by attachment reference.
	// Assemble fills it from fetched attachments.
	Images map[string]image.Image
}

// BlockKind identifies how a block is drawn.
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockImage
	BlockRule
	BlockSpace
)

// Align is horizontal alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignCenter
)

// Block is one vertical unit of the rendered section.
type Block struct {
	Kind  BlockKind
	Text  string
	Bold  bool
	Size  float64
	Color color.RGBA
	Align Align
	Image image.Image
	// Height is the gap for BlockSpace, the stroke for BlockRule and the
	// maximum height for BlockImage (0 means unbounded).
	Height int
}

var (
	navy  = color.RGBA{0x0A, 0x3D, 0x62, 0xff}
	slate = color.RGBA{0x3C, 0x63, 0x82, 0xff}
	ink   = color.RGBA{0x2F, 0x3A, 0x4C, 0xff}
	muted = color.RGBA{0x7A, 0x86, 0x98, 0xff}
)

const (
	// Title is drawn at the top of every document.
	Title = "CareBridge"
	// Tagline is drawn below the title.
	Tagline = "Digital E-Prescription Platform"

	defaultSpeciality = "General Physician"
)

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func text(s string, size float64, c color.RGBA) Block {
	return Block{Kind: BlockText, Text: s, Size: size, Color: c}
}

func heading(s string, size float64) Block {
	return Block{Kind: BlockText, Text: s, Size: size, Color: navy, Bold: true}
}

func space(h int) Block { return Block{Kind: BlockSpace, Height: h} }

// Layout returns the blocks of the rendered section in drawing order. It
// is deterministic: the same input always yields the same blocks. A logo
// that cannot be decoded is left out.
func Layout(in Input) []Block {
	var blocks []Block
	if logo := decodeLogo(in.Logo); logo != nil {
		blocks = append(blocks, Block{Kind: BlockImage, Image: logo, Align: AlignCenter, Height: 120}, space(12))
	}

	title := heading(Title, 60)
	title.Align = AlignCenter
	tagline := text(Tagline, 26, slate)
	tagline.Align = AlignCenter
	blocks = append(blocks, title, tagline, space(24), Block{Kind: BlockRule, Height: 6, Color: navy}, space(36))

	speciality := in.Doctor.Speciality
	if strings.TrimSpace(speciality) == "" {
		speciality = defaultSpeciality
	}
	blocks = append(blocks,
		heading("Doctor Information", 30),
		text("Name: "+orDash(in.Doctor.Name), 26, ink),
		text("Speciality: "+speciality, 26, ink),
		text("Date: "+orDash(FormatSlotDate(in.SlotDate)), 26, ink),
		text("Time: "+orDash(in.SlotTime), 26, ink),
		space(24),
		heading("Patient Information", 30),
		text("Name: "+orDash(in.Patient.Name), 26, ink),
		text("Age / Gender: "+orDash(in.Patient.Age)+" / "+orDash(in.Patient.Gender), 26, ink),
		space(48),
		heading("Prescription Details", 36),
		Block{Kind: BlockRule, Height: 4, Color: navy},
		space(24),
	)

	for _, e := range in.Entries {
		blocks = append(blocks, text(orDash(e.Text), 28, ink))
		if e.IsEdited && e.UpdatedAt != nil {
			blocks = append(blocks, text("(edited "+e.UpdatedAt.UTC().Format("02 Jan 2006")+")", 22, muted))
		}
		for _, ref := range e.Attachments {
			if IsDocument(ref) {
				continue
			}
			if img, ok := in.Images[ref]; ok && img != nil {
				blocks = append(blocks, space(12), Block{Kind: BlockImage, Image: img})
			}
		}
		blocks = append(blocks, space(20))
	}
	return blocks
}

func decodeLogo(b []byte) image.Image {
	if len(b) == 0 {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil
	}
	return img
}
