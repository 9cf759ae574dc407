package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voxbridge/internal/assistant"
	"github.com/MrWong99/voxbridge/internal/discord"
	"github.com/MrWong99/voxbridge/internal/settings"
	"github.com/MrWong99/voxbridge/pkg/provider/llm"
)

// providerDefault clears a user's TTS provider override.
const providerDefault = "default"

// Tiers resolves tier definitions and model choices.
type Tiers interface {
	Tier(name assistant.TierName) assistant.Tier
	ResolveModel(tier assistant.TierName, requested string) (string, llm.Provider, error)
}

// PreferenceCommands holds the dependencies for the per-user commands
// /settier, /setprovider, /setmodel and /settings.
type PreferenceCommands struct {
	settings  *settings.Service
	tiers     Tiers
	providers []string
	models    []string
}

// NewPreferenceCommands creates PreferenceCommands. providers are the
// configured TTS provider names and models the selectable model keys, both
// in display order.
func NewPreferenceCommands(svc *settings.Service, tiers Tiers, providers, models []string) *PreferenceCommands {
	return &PreferenceCommands{
		settings:  svc,
		tiers:     tiers,
		providers: slices.Clone(providers),
		models:    slices.Clone(models),
	}
}

// Register registers the preference commands with the router.
func (pc *PreferenceCommands) Register(router *discord.CommandRouter) {
	defs := pc.Definitions()
	router.RegisterCommand("settier", defs[0], pc.handleSetTier)
	router.RegisterCommand("setprovider", defs[1], pc.handleSetProvider)
	router.RegisterCommand("setmodel", defs[2], pc.handleSetModel)
	router.RegisterCommand("settings", defs[3], pc.handleSettings)
}

// Definitions returns the definitions in the order settier, setprovider,
// setmodel, settings.
func (pc *PreferenceCommands) Definitions() []*discordgo.ApplicationCommand {
	providerChoices := []*discordgo.ApplicationCommandOptionChoice{{Name: "Tier default", Value: providerDefault}}
	for _, p := range pc.providers {
		providerChoices = append(providerChoices, &discordgo.ApplicationCommandOptionChoice{Name: p, Value: p})
	}
	modelChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(pc.models))
	for _, m := range pc.models {
		modelChoices = append(modelChoices, &discordgo.ApplicationCommandOptionChoice{Name: m, Value: m})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "settier",
			Description: "Set your tier",
			Options: []*discordgo.ApplicationCommandOption{{
				Type: discordgo.ApplicationCommandOptionString, Name: "tier", Description: "Choose your tier", Required: true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "Free", Value: string(assistant.TierFree)},
					{Name: "Premium", Value: string(assistant.TierPremium)},
				},
			}},
		},
		{
			Name:        "setprovider",
			Description: "Set TTS provider",
			Options: []*discordgo.ApplicationCommandOption{{
				Type: discordgo.ApplicationCommandOptionString, Name: "provider", Description: "Choose TTS provider", Required: true,
				Choices: providerChoices,
			}},
		},
		{
			Name:        "setmodel",
			Description: "Set the language model",
			Options: []*discordgo.ApplicationCommandOption{{
				Type: discordgo.ApplicationCommandOptionString, Name: "model", Description: "Choose a model", Required: true,
				Choices: modelChoices,
			}},
		},
		{Name: "settings", Description: "View your current settings"},
	}
}

func (pc *PreferenceCommands) handleSetTier(s discord.Session, i *discordgo.InteractionCreate) {
	raw, _ := discord.Option(i, "tier")
	tier, err := assistant.ParseTier(raw)
	if err != nil {
		discord.RespondEphemeral(s, i, "Unknown tier. Choose free or premium.")
		return
	}
	pc.update(s, i, "Tier set to "+string(tier), func(p *settings.UserPreferences) {
		p.Tier = string(tier)
	})
}

func (pc *PreferenceCommands) handleSetProvider(s discord.Session, i *discordgo.InteractionCreate) {
	provider, _ := discord.Option(i, "provider")
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == providerDefault {
		pc.update(s, i, "TTS provider reset to your tier default", func(p *settings.UserPreferences) {
			p.TTSProvider = ""
		})
		return
	}
	if !slices.Contains(pc.providers, provider) {
		discord.RespondEphemeral(s, i, "Unknown TTS provider.")
		return
	}
	pc.update(s, i, "TTS provider set to "+provider, func(p *settings.UserPreferences) {
		p.TTSProvider = provider
	})
}

func (pc *PreferenceCommands) handleSetModel(s discord.Session, i *discordgo.InteractionCreate) {
	model, _ := discord.Option(i, "model")
	if !slices.Contains(pc.models, model) {
		discord.RespondEphemeral(s, i, "Unknown model.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	prefs, err := pc.settings.User(ctx, discord.UserID(i))
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	if !pc.tiers.Tier(assistant.TierName(prefs.Tier)).Allows(model) {
		discord.RespondEphemeral(s, i, fmt.Sprintf("The %s tier does not include %s.", prefs.Tier, model))
		return
	}
	pc.update(s, i, "Model set to "+model, func(p *settings.UserPreferences) {
		p.Model = model
	})
}

func (pc *PreferenceCommands) handleSettings(s discord.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	summary, err := pc.Describe(ctx, discord.UserID(i))
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, summary)
}

func (pc *PreferenceCommands) update(s discord.Session, i *discordgo.InteractionCreate, msg string, fn func(*settings.UserPreferences)) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	_, err := pc.settings.UpdateUser(ctx, discord.UserID(i), func(p *settings.UserPreferences) error {
		fn(p)
		return nil
	})
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	discord.RespondEphemeral(s, i, msg)
}

// Describe renders the effective settings of userID: the tier, the TTS
// provider tried first, whether replies stream and the model in use.
func (pc *PreferenceCommands) Describe(ctx context.Context, userID string) (string, error) {
	prefs, err := pc.settings.User(ctx, userID)
	if err != nil {
		return "", err
	}
	name := assistant.TierName(prefs.Tier)
	tier := pc.tiers.Tier(name)

	provider := prefs.TTSProvider
	if provider == "" {
		provider = tier.TTSProvider
	}
	model := prefs.Model
	if key, _, err := pc.tiers.ResolveModel(name, prefs.Model); err == nil {
		model = key
	}
	return fmt.Sprintf("Current settings:\nTier: %s\nTTS Provider: %s\nStreaming: %t\nModel: %s",
		prefs.Tier, provider, tier.Streaming, model), nil
}
