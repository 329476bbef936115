package detector

import (
	"fmt"
	"strings"

	"github.com/brojonat/buydetector/service/notify"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	magnitudeGlyph    = "🥇"
	maxGlyphs         = 100
	progressBarBlocks = 20
)

var (
	glyphUnit      = decimal.New(1, -1) // 0.1 SOL per glyph
	lowUSDBucket   = decimal.NewFromInt(10)
	highUSDBucket  = decimal.NewFromInt(100)
	hundred        = decimal.NewFromInt(100)
	percentPerBar  = decimal.NewFromInt(5)
	partialBlocks  = []string{"░", "▒", "▓"}
	boxTop         = "┌────────────────────────────┐"
	boxBottom      = "└────────────────────────────┘"
	separatorLine  = "───────────────"
	englishPrinter = message.NewPrinter(language.English)
)

// Formatter renders notifications. The zero value renders without links.
type Formatter struct {
	ProjectName   string
	ExplorerTxURL string // signature is appended
	BuyURL        string
	MediaURL      string
	SoftCap       decimal.Decimal // SOL; zero hides the soft cap section
}

// Notification is everything a transfer message is rendered from.
// PriceUSD and WalletBalance are zero when their lookups failed.
type Notification struct {
	Signature     string
	Transfer      TransferEvent
	PriceUSD      decimal.Decimal
	WalletBalance decimal.Decimal
}

// Format renders n as a Markdown message. Output depends only on its inputs.
func (f Formatter) Format(n Notification) notify.Message {
	usd := n.Transfer.Amount.Mul(n.PriceUSD)
	walletUSD := n.WalletBalance.Mul(n.PriceUSD)

	var b strings.Builder
	fmt.Fprintf(&b, "%s *New %s contribution detected!*\n\n", SeverityEmoji(usd), f.projectName())
	fmt.Fprintf(&b, "🔁 *From:* `%s`\n", n.Transfer.Source)
	fmt.Fprintf(&b, "📥 *To:* `%s`\n", n.Transfer.Destination)
	b.WriteString("🟨 *Amount Received:*\n")
	writeBox(&b, n.Transfer.Amount, usd)
	b.WriteString(MagnitudeGlyphs(n.Transfer.Amount))
	b.WriteString("\n\n")

	b.WriteString("💼 *Raised:*\n")
	writeBox(&b, n.WalletBalance, walletUSD)
	b.WriteString("\n")

	if f.SoftCap.IsPositive() {
		fmt.Fprintf(&b, "🔴 *SoftCap:* %s SOL\n", f.SoftCap.String())
		if n.WalletBalance.GreaterThanOrEqual(f.SoftCap) {
			b.WriteString("🥳 ✅ *SoftCap Passed!*\n")
		}
		pct := n.WalletBalance.Div(f.SoftCap).Mul(hundred)
		fmt.Fprintf(&b, "📊 *Progress:*\n%s\n\n", ProgressBar(pct))
	}

	if f.ExplorerTxURL != "" {
		fmt.Fprintf(&b, "🔗 [View transaction](%s%s)\n", f.ExplorerTxURL, n.Signature)
	}
	if f.BuyURL != "" {
		b.WriteString(separatorLine + "\n")
		fmt.Fprintf(&b, "🤖 [Buy %s](%s)\n", f.projectName(), f.BuyURL)
	}
	b.WriteString(separatorLine + "\n")
	b.WriteString("🤖 *BuyDetector™ Solana*")

	return notify.Message{Text: b.String(), MediaURL: f.MediaURL}
}

// StartupMessage is sent once before the detection loop starts.
func (f Formatter) StartupMessage() notify.Message {
	text := "✅ Bot started and connected successfully!\n\n" +
		fmt.Sprintf("🟢 %s BuyDetector™ is live.\n", f.projectName()) +
		"🔍 Waiting for first transaction..."
	return notify.Message{Text: text, MediaURL: f.MediaURL}
}

func (f Formatter) projectName() string {
	if f.ProjectName == "" {
		return "Solana"
	}
	return f.ProjectName
}

func writeBox(b *strings.Builder, sol, usd decimal.Decimal) {
	b.WriteString(boxTop + "\n")
	fmt.Fprintf(b, "│  %s SOL (~$%s)  │\n", sol.StringFixed(4), FormatUSD(usd))
	b.WriteString(boxBottom + "\n")
}

// SeverityEmoji buckets a USD value: under 10, under 100, and the rest.
func SeverityEmoji(usd decimal.Decimal) string {
	switch {
	case usd.LessThan(lowUSDBucket):
		return "💸"
	case usd.LessThan(highUSDBucket):
		return "🚀"
	default:
		return "🔥"
	}
}

// MagnitudeGlyphs returns one glyph per 0.1 SOL, at most maxGlyphs.
func MagnitudeGlyphs(amount decimal.Decimal) string {
	count := amount.Div(glyphUnit).Floor().IntPart()
	if count <= 0 {
		return ""
	}
	if count > maxGlyphs {
		count = maxGlyphs
	}
	return strings.Repeat(magnitudeGlyph, int(count))
}

// ProgressBar draws one full block per 5% followed by a partial block for
// the remainder. The bar stops at 100% but the label shows the real value.
func ProgressBar(pct decimal.Decimal) string {
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	full := pct.Div(percentPerBar).Floor().IntPart()
	// Remainder in quarters of a block; 1..3 map onto the partial glyphs.
	quarters := pct.Mod(percentPerBar).Div(percentPerBar).Mul(decimal.NewFromInt(4)).Floor().IntPart()

	var bar strings.Builder
	if full >= progressBarBlocks {
		bar.WriteString(strings.Repeat("█", progressBarBlocks))
	} else {
		bar.WriteString(strings.Repeat("█", int(full)))
		if quarters > 0 {
			bar.WriteString(partialBlocks[quarters-1])
		}
	}
	return fmt.Sprintf("%s %s%%", bar.String(), pct.StringFixed(1))
}

// FormatUSD rounds half away from zero to cents and groups thousands.
func FormatUSD(usd decimal.Decimal) string {
	rounded := usd.Round(2)
	return englishPrinter.Sprintf("%v", number.Decimal(rounded.InexactFloat64(), number.Scale(2)))
}
