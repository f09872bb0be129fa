package generator

import (
	"fmt"
	"strings"
	"time"

	"github.com/bidautoweb/post-generator-service/internal/constants"
	"github.com/bidautoweb/post-generator-service/internal/posts"
)

// PostSerializer renders a persisted Post into the user-facing message
// parts: formatted text, image list and listing link.
type PostSerializer struct {
	post     posts.Post
	linkBase string
}

func NewPostSerializer(post posts.Post, linkBase string) *PostSerializer {
	if linkBase == "" {
		linkBase = "https://bidauto.online/lot"
	}
	return &PostSerializer{post: post, linkBase: strings.TrimRight(linkBase, "/")}
}

func (s *PostSerializer) Link() string {
	return fmt.Sprintf("%s/%d?auction_name=%s", s.linkBase, s.post.LotID, strings.ToUpper(s.post.Auction))
}

// Images returns at most amount image URLs.
func (s *PostSerializer) Images(amount int) []string {
	if s.post.Images == "" {
		return nil
	}
	images := strings.Split(s.post.Images, ",")
	if len(images) > amount {
		images = images[:amount]
	}
	return images
}

func (s *PostSerializer) Text() string {
	var b strings.Builder

	fmt.Fprintf(&b, "🔗 <a href=\"%s\">Atidaryti bidauto.online</a>\n\n", s.Link())
	b.WriteString("📲 Susisiekite: https://t.me/bidautoLT\n")
	b.WriteString("🚗🔥 Labai geras pasiūlymas aukcione! 🔥🚗\n")
	fmt.Fprintf(&b, "🚗 <b>%s</b>\n", s.post.Title)
	fmt.Fprintf(&b, "🕔 <b>%d miles</b>\n", s.post.Odometer)
	fmt.Fprintf(&b, "⚠️ <u><b>REZERVAS: %s</b></u>\n", s.reserve())
	b.WriteString("📌 Pardavėjas: Draudimas 👍\n")
	fmt.Fprintf(&b, "📌 VIN: %s\n", s.post.VIN)
	fmt.Fprintf(&b, "📌 Būklė: %s\n", s.post.Status)
	b.WriteString("📌 Dokumentai: Tinka registracijai 👍\n")
	fmt.Fprintf(&b, "⏳ Aukcionas prasideda: %s (Vilnius)\n", s.auctionDate())
	b.WriteString("🛳️ Transporto išlaidos sudarys:\n")
	fmt.Fprintf(&b, "Vietinis Transportas: $%d\n", s.post.DeliveryPrice)
	fmt.Fprintf(&b, "Jūrinis pervežimas: $%d\n", s.post.ShippingPrice)
	b.WriteString("Broker Fee: $299\n")
	b.WriteString("*** Taip pat prisidės aukciono mokesčiai, kurie priklauso nuo statymo sumos!\n")
	b.WriteString("🇱🇹 Lietuvoje liks sumokėti:\n")
	b.WriteString("✅ 10% Muitas\n")
	b.WriteString("✅ 21% PVM\n")
	b.WriteString("✅ 350€ Krova\n")
	b.WriteString("⏳ Liko mažai laiko – nepraleiskite progos! ⏳💨\n")
	fmt.Fprintf(&b, "💸 VIDUTINĖ pardavimo kaina: %s\n", s.averagePrice())
	b.WriteString("✉️ Rašykite mums DM arba apsilankykite 👉 bidauto.online\n\n")

	return b.String()
}

func (s *PostSerializer) reserve() string {
	if s.post.ReservePrice == nil {
		return "N/A"
	}
	return "$" + formatThousands(*s.post.ReservePrice)
}

func (s *PostSerializer) averagePrice() string {
	if s.post.AverageSellPrice == nil {
		return "N/A"
	}
	return fmt.Sprintf("$%d", *s.post.AverageSellPrice)
}

func (s *PostSerializer) auctionDate() string {
	if s.post.AuctionDate == nil {
		return "N/A"
	}
	loc, err := time.LoadLocation("Europe/Vilnius")
	if err != nil {
		return s.post.AuctionDate.UTC().Format("02.01.2006 15:04")
	}
	return s.post.AuctionDate.In(loc).Format("02.01.2006 15:04")
}

func formatThousands(v int64) string {
	digits := fmt.Sprintf("%d", v)
	negative := strings.HasPrefix(digits, "-")
	if negative {
		digits = digits[1:]
	}

	var parts []string
	for len(digits) > 3 {
		parts = append([]string{digits[len(digits)-3:]}, parts...)
		digits = digits[:len(digits)-3]
	}
	parts = append([]string{digits}, parts...)

	out := strings.Join(parts, ",")
	if negative {
		out = "-" + out
	}
	return out
}

// SerializedPost is one entry of the posts.generated event payload.
type SerializedPost struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
	Link   string   `json:"link"`
	PostID int64    `json:"post_id"`
}

func serializePosts(persisted []posts.Post, linkBase string) []SerializedPost {
	out := make([]SerializedPost, 0, len(persisted))
	for _, post := range persisted {
		serializer := NewPostSerializer(post, linkBase)
		out = append(out, SerializedPost{
			Text:   serializer.Text(),
			Images: serializer.Images(constants.MaxImagesPerMessage),
			Link:   serializer.Link(),
			PostID: post.ID,
		})
	}
	return out
}
