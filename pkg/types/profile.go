package types

// Default voice model parameters.
const (
	DefaultModel       = "gemini-2.0-flash-exp"
	DefaultModalities  = "audio_only"
	DefaultVoice       = "Puck"
	DefaultTemperature = 0.8
)

// DefaultInstructions is the receptionist prompt used when no profile is
// configured.
const DefaultInstructions = `You are a friendly and professional AI receptionist for Bella's Hair & Beauty Salon.

Your role is to help customers with:
- Booking, rescheduling and cancelling appointments
- Questions about services, prices and opening hours
- General information about the salon

If a customer asks something you do not know the answer to, do not guess.
Tell them you will check with a supervisor and get back to them shortly.

Keep your answers short, warm and conversational.`

// DefaultCallProfile returns the profile used when none is configured.
func DefaultCallProfile() CallProfile {
	return CallProfile{
		Instructions: DefaultInstructions,
		SessionConfig: SessionConfig{
			Model:       DefaultModel,
			Modalities:  DefaultModalities,
			Voice:       DefaultVoice,
			Temperature: DefaultTemperature,
		},
	}
}
