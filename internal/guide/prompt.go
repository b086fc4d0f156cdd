package guide

import (
	"strings"
)

const systemPrompt = "You are a technical documentation expert specializing in cloud " +
	"infrastructure, virtualization, and deployment guides. Create clear, structured, " +
	"step-by-step guides from video transcriptions. Focus on accuracy, clarity, and " +
	"proper formatting."

func buildUserPrompt(req Request) string {
	parts := []string{
		"Transform the following video transcription into a professional technical guide.",
		"",
		"Requirements:",
		"1. Create a clear title and overview",
		"2. Add a prerequisites section",
		"3. Break content into numbered steps",
		"4. Format shell commands in code blocks",
		"5. Extract and properly format URLs",
		"6. Fix obvious transcription errors",
		"7. Add a troubleshooting section",
		"8. Include a summary",
		"9. Use proper markdown formatting throughout",
		"",
	}

	if req.VideoName != "" {
		parts = append(parts, "Source video: "+req.VideoName, "")
	}

	parts = append(parts,
		"Transcription:",
		"---",
		req.Transcript.Text,
		"---",
		"",
		"Generate the technical guide in markdown format:",
	)

	return strings.Join(parts, "\n")
}
