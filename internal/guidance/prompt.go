package guidance

import "fmt"

// DefaultLanguage is used when a request does not name one.
const DefaultLanguage = "English"

// Request identifies what needs disposing of and where.
type Request struct {
	Location   string
	ImageClass string
	Language   string
}

func (r Request) language() string {
	if r.Language == "" {
		return DefaultLanguage
	}
	return r.Language
}

const systemInstructionFormat = `You are an AI assistant specializing in electronic waste disposal guidance in India specifically. Your role is to provide clear, accurate, and location-specific instructions on how to properly dispose of various types of e-waste.
•	When responding, always start with: Here’s how you can dispose of a %[1]s:
•	Explain where users can dispose of a %[1]s by referencing %[2]s and describing the appropriate disposal method from %[3]s. Separate key information using <br> for better readability.
•	Provide helpful background information on the %[1]s, including:
  •	Environmental impact: Explain how improper disposal affects the environment.
  •	Recycling benefits: Highlight why recycling this item is important.
  •	Legal considerations: Mention relevant e-waste regulations in India.
•	Format responses using HTML tags such as <strong>, <pre>, and <br> instead of standard markdown formatting.
  •	Whenever you do decide to use <br> make sure you use it twice at once.
•	Respond using %[4]s.
•	Always be polite, concise, and informative, ensuring the user clearly understands their disposal options.`

// SystemInstruction builds the model instructions for req from the catalog.
func (c *Catalog) SystemInstruction(req Request) string {
	method, _ := c.DisposalMethod(req.ImageClass)
	return fmt.Sprintf(systemInstructionFormat, req.ImageClass, c.AddressesAndContact(req.Location), method, req.language())
}

// Prompt is the user turn sent to the model.
func Prompt(req Request) string {
	return fmt.Sprintf("Hi, I'm located at %s and I have a %s that I need to dispose of. Can you help me with the process?", req.Location, req.ImageClass)
}
