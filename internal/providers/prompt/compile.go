package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"archivision/internal/domain"
)

// SystemInstruction is sent as the system message of every text-generation call.
const SystemInstruction = "You are a helpful AI for generating architectural visual prompts."

// Compile renders the design questionnaire into the user instruction for the
// text-generation call. Every field is embedded, empty ones as empty strings,
// so identical parameters always yield the identical instruction.
func Compile(p domain.DesignParameters) string {
	sb := &strings.Builder{}
	sb.WriteString("You are an expert interior designer. Create a rich, vivid image prompt for the following room:\n")
	fmt.Fprintf(sb, "- Type: %s\n", p.RoomType)
	fmt.Fprintf(sb, "- Style: %s\n", p.Style)
	fmt.Fprintf(sb, "- Dominant colors: %s\n", p.Colors)
	fmt.Fprintf(sb, "- Ambiance: %s\n", p.Ambiance)
	fmt.Fprintf(sb, "- Dimensions: %sx%sm, ceiling height: %sm\n", meters(p.Length), meters(p.Width), meters(p.CeilingHeight))
	fmt.Fprintf(sb, "- Furniture: %s\n", p.Furniture)
	fmt.Fprintf(sb, "- Lighting: %s\n", p.Lighting)
	fmt.Fprintf(sb, "- Decor: %s\n", p.Decor)
	fmt.Fprintf(sb, "- Function: %s\n", p.SpecialFunction)
	fmt.Fprintf(sb, "- View: %s\n", p.View)
	fmt.Fprintf(sb, "- Constraints: %s\n", p.Constraints)
	sb.WriteString("The output should be detailed, visual, and suitable for a text-to-image AI. ")
	sb.WriteString("Do not mention cost, price or budget.")
	return sb.String()
}

func meters(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
