package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/dialogue-engine/internal/services/events"
	"github.com/jwebster45206/dialogue-engine/pkg/dice"
	"github.com/jwebster45206/dialogue-engine/pkg/envelope"
	"github.com/jwebster45206/dialogue-engine/pkg/state"
)

const (
	AgentName       = "NPC"
	PlaceHolderText = "Say something..."
	newSlotLabel    = "+ New slot"
)

type lineKind int

const (
	lineUser lineKind = iota
	lineNPC
	lineSystem
	lineError
)

type transcriptLine struct {
	kind lineKind
	text string
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	api          *apiClient
	slot         string
	session      *state.SessionState
	transcript   []transcriptLine
	chatViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	err          error

	// request ids queued but not yet committed or failed
	pending map[string]bool
	// results that arrived before the 202 for their request
	early        map[string]events.Event
	lastEnvelope *envelope.Envelope

	eventCh      chan events.Event
	streamErr    chan error
	stopListen   context.CancelFunc
	progressTick int

	// Slot selection state
	showSlotModal bool
	slots         []string
	selectedSlot  int
	loadingSlots  bool
	creatingSlot  bool

	// Quit confirmation state
	showQuitModal bool
}

type slotsLoadedMsg struct {
	slots []string
	err   error
}

type slotReadyMsg struct {
	session *state.SessionState
	err     error
}

type sessionMsg struct {
	session *state.SessionState
	err     error
}

type turnQueuedMsg struct {
	requestID string
	err       error
}

type slotEventMsg struct {
	event events.Event
}

type streamClosedMsg struct {
	err error
}

type progressTickMsg struct{}

var (
	chatPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	npcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	toneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Italic(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")) // grey

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	modalItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	modalSelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("0")).
				Background(lipgloss.Color("205")).
				Bold(true)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

func NewConsoleUI(cfg *ConsoleConfig, api *apiClient) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	chatVp := viewport.New(50, 20)
	chatVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		config:        cfg,
		api:           api,
		textarea:      ta,
		chatViewport:  chatVp,
		metaViewport:  metaVp,
		pending:       make(map[string]bool),
		early:         make(map[string]events.Event),
		showSlotModal: true,
		loadingSlots:  cfg.Slot == "",
		creatingSlot:  cfg.Slot != "",
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	if m.config.Slot != "" {
		return m.openSlot(m.config.Slot, true)
	}
	return m.loadSlots()
}

func writeMetadata(s *state.SessionState) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("SESSION") + "\n\n")

	content.WriteString("Slot:\n")
	content.WriteString(s.Slot + "\n\n")

	content.WriteString("Relationship:\n")
	content.WriteString(fmt.Sprintf("%+d %s\n\n", s.Relationship, relationshipBar(s.Relationship)))

	content.WriteString("NPC status:\n")
	if s.NPCStatus.Active() {
		content.WriteString(fmt.Sprintf("%s (%d)\n\n", s.NPCStatus.Status, s.NPCStatus.Duration))
	} else {
		content.WriteString("normal\n\n")
	}

	content.WriteString("Turns:\n")
	content.WriteString(fmt.Sprintf("%d (%d noop)\n\n", s.TurnCounter, s.NoopTurns))

	var flags []string
	for k, v := range s.Flags {
		if v {
			flags = append(flags, string(k))
		}
	}
	slices.Sort(flags)
	content.WriteString("Flags:\n")
	if len(flags) == 0 {
		content.WriteString("None set\n")
	}
	for _, f := range flags {
		content.WriteString("• " + f + "\n")
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Enter: Send\n")
	content.WriteString("• /help: Help\n")
	content.WriteString("• /journal: Journal\n")
	content.WriteString("• /copy: Copy envelope\n")

	return content.String()
}

// relationshipBar draws -100..100 as ten cells.
func relationshipBar(r int) string {
	filled := (state.ClampRelationship(r) + 100) / 20
	return strings.Repeat("▮", filled) + strings.Repeat("▯", 10-filled)
}

// writeChatContent renders the transcript for the current viewport width
func (m *ConsoleUI) writeChatContent() {
	chatWidth := m.chatViewport.Width - 6 // Account for left(3) + right(3) padding
	if chatWidth < 10 {
		chatWidth = 10
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("DIALOGUE ENGINE") + "\n\n")
	content.WriteString("Type what you say to the NPC and press Enter.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", chatWidth)) + "\n\n")

	for _, l := range m.transcript {
		content.WriteString(renderLine(l, chatWidth) + "\n\n")
	}

	if len(m.pending) > 0 {
		content.WriteString(m.renderProgressBar())
	}

	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func renderLine(l transcriptLine, width int) string {
	switch l.kind {
	case lineUser:
		return userStyle.Render("You: ") + wordwrap.String(l.text, width-5)
	case lineNPC:
		return npcStyle.Render(AgentName+": ") + wordwrap.String(l.text, width-len(AgentName)-2)
	case lineError:
		return errorStyle.Render(wordwrap.String("Error: "+l.text, width))
	default:
		return systemStyle.Render(wordwrap.String(l.text, width))
	}
}

// describeEnvelope turns a committed envelope into what the console shows
// for the NPC. Without a generator attached, unlocked turns show the
// directive rather than generated speech.
func describeEnvelope(env envelope.Envelope) string {
	if env.Locked() {
		return env.ForcedOverrideText
	}
	var sb strings.Builder
	sb.WriteString(toneStyle.Render("(" + string(env.ToneDirective) + ")"))
	if len(env.ForbiddenTopics) > 0 {
		sb.WriteString(" avoids: " + strings.Join(env.ForbiddenTopics, ", "))
	}
	return sb.String()
}

func (m ConsoleUI) addLine(kind lineKind, text string) ConsoleUI {
	m.transcript = append(m.transcript, transcriptLine{kind: kind, text: text})
	return m
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}
	if m.showSlotModal {
		return m.updateSlotModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.chatViewport, vpCmd = m.chatViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.writeChatContent()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if input == "" {
				return m, nil
			}
			m = m.addLine(lineUser, input)
			m.writeChatContent()
			return m, m.queueTurn(input)
		}

	case turnQueuedMsg:
		if msg.err != nil {
			m = m.addLine(lineError, msg.err.Error())
			m.writeChatContent()
			return m, nil
		}
		if ev, ok := m.early[msg.requestID]; ok {
			delete(m.early, msg.requestID)
			return m.applyResult(ev)
		}
		m.pending[msg.requestID] = true
		m.progressTick = 0
		m.writeChatContent()
		return m, progressTick()

	case slotEventMsg:
		return m.handleEvent(msg.event)

	case streamClosedMsg:
		if msg.err != nil {
			m = m.addLine(lineError, "event stream closed: "+msg.err.Error())
		}
		m.writeChatContent()
		return m, nil

	case sessionMsg:
		if msg.err == nil && msg.session != nil {
			m.session = msg.session
			m.metaViewport.SetContent(writeMetadata(m.session))
		}

	case progressTickMsg:
		if len(m.pending) > 0 {
			m.progressTick++
			m.writeChatContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.chatViewport, vpCmd = m.chatViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleEvent(ev events.Event) (tea.Model, tea.Cmd) {
	next := m.waitForEvent()
	if ev.Type == events.EventTypeTurnQueued {
		return m, next
	}
	if !m.pending[ev.RequestID] {
		// may be ours, with the 202 still in flight
		if len(m.early) >= 32 {
			clear(m.early)
		}
		m.early[ev.RequestID] = ev
		if ev.Type == events.EventTypeTurnCommitted {
			return m, tea.Batch(next, m.refreshSession())
		}
		return m, next
	}
	model, cmd := m.applyResult(ev)
	return model, tea.Batch(next, cmd)
}

// applyResult shows the committed or failed result of one of our turns.
func (m ConsoleUI) applyResult(ev events.Event) (tea.Model, tea.Cmd) {
	delete(m.pending, ev.RequestID)

	switch ev.Type {
	case events.EventTypeTurnCommitted:
		if ev.Envelope != nil {
			env := *ev.Envelope
			m.lastEnvelope = &env
			m = m.addLine(lineNPC, describeEnvelope(env))
		}
		if ev.Outcome != nil && ev.Outcome.CheckType != dice.CheckNone {
			m = m.addLine(lineSystem, ev.Outcome.String())
		}
		m.writeChatContent()
		return m, m.refreshSession()

	case events.EventTypeTurnFailed:
		text := ev.Error
		if ev.Retryable {
			text += " (retryable, try again)"
		}
		m = m.addLine(lineError, text)
		m.writeChatContent()
	}
	return m, nil
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "/help":
		m = m.addLine(lineSystem, `Commands:
• /help - Show this help
• /journal - Show the last journal entries
• /copy - Copy the last turn envelope to the clipboard
• Ctrl+C - Quit

Talk to the NPC in plain language. Persuading, deceiving, intimidating and
giving items all move the relationship; probing the secret too early gets
deflected.`)

	case "/journal":
		if m.session == nil || len(m.session.Journal) == 0 {
			m = m.addLine(lineSystem, "The journal is empty.")
			break
		}
		var sb strings.Builder
		sb.WriteString("Journal:")
		n := len(m.session.Journal)
		for _, e := range m.session.Journal[max(0, n-5):] {
			sb.WriteString(fmt.Sprintf("\n• %s %s", e.TurnID, e.Summary))
			if e.Locked {
				sb.WriteString(" [locked]")
			}
		}
		m = m.addLine(lineSystem, sb.String())

	case "/copy":
		if m.lastEnvelope == nil {
			m = m.addLine(lineSystem, "No turn has committed yet.")
			break
		}
		data, err := json.MarshalIndent(m.lastEnvelope, "", "  ")
		if err == nil {
			err = clipboard.WriteAll(string(data))
		}
		if err != nil {
			m = m.addLine(lineError, "copy failed: "+err.Error())
			break
		}
		m = m.addLine(lineSystem, "Envelope copied to clipboard.")

	default:
		m = m.addLine(lineSystem, "Unknown command. Try /help.")
	}

	m.writeChatContent()
	return m, nil
}

func (m *ConsoleUI) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	chatWidth := int(float64(m.width)*0.72) - 4
	metaWidth := m.width - chatWidth - 6

	m.chatViewport.Width = chatWidth - 2
	m.chatViewport.Height = m.height - 7
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(chatWidth - 4)
}

func (m ConsoleUI) loadSlots() tea.Cmd {
	return func() tea.Msg {
		slots, err := m.api.listSlots()
		return slotsLoadedMsg{slots, err}
	}
}

// openSlot loads slot, creating it first when create is set and it does
// not exist yet.
func (m ConsoleUI) openSlot(slot string, create bool) tea.Cmd {
	return func() tea.Msg {
		s, err := m.api.getSlot(slot)
		if err != nil && create {
			s, err = m.api.createSlot(slot)
		}
		return slotReadyMsg{s, err}
	}
}

func (m ConsoleUI) refreshSession() tea.Cmd {
	slot := m.slot
	return func() tea.Msg {
		s, err := m.api.getSlot(slot)
		return sessionMsg{s, err}
	}
}

func (m ConsoleUI) queueTurn(utterance string) tea.Cmd {
	slot := m.slot
	return func() tea.Msg {
		id, err := m.api.queueTurn(slot, utterance)
		return turnQueuedMsg{id, err}
	}
}

// startListening opens the event stream for the current slot.
func (m *ConsoleUI) startListening() tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.stopListen = cancel
	m.eventCh = make(chan events.Event, 16)
	m.streamErr = make(chan error, 1)

	api, slot, ch, errs := m.api, m.slot, m.eventCh, m.streamErr
	go func() {
		err := api.listen(ctx, slot, ch)
		if ctx.Err() != nil {
			err = nil
		}
		errs <- err
		close(ch)
	}()
	return m.waitForEvent()
}

func (m ConsoleUI) waitForEvent() tea.Cmd {
	ch, errs := m.eventCh, m.streamErr
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{err: <-errs}
		}
		return slotEventMsg{ev}
	}
}

func (m ConsoleUI) updateSlotModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case slotsLoadedMsg:
		m.loadingSlots = false
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.slots = append(msg.slots, newSlotLabel)
		}

	case slotReadyMsg:
		m.creatingSlot = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.slot = msg.session.Slot
		m.showSlotModal = false
		m.ready = true
		m.layout()
		m = m.addLine(lineSystem, fmt.Sprintf("Playing slot %s at version %d.", m.slot, m.session.CheckpointVersion))
		m.writeChatContent()
		m.metaViewport.SetContent(writeMetadata(m.session))
		m.textarea.Focus()
		return m, tea.Batch(textarea.Blink, m.startListening())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.loadingSlots || m.err != nil {
				return m, tea.Quit
			}
			m.showQuitModal = true
			return m, nil
		}
		if m.loadingSlots || m.creatingSlot || m.err != nil {
			return m, nil
		}

		switch msg.Type {
		case tea.KeyUp:
			if m.selectedSlot > 0 {
				m.selectedSlot--
			}
		case tea.KeyDown:
			if m.selectedSlot < len(m.slots)-1 {
				m.selectedSlot++
			}
		case tea.KeyEnter:
			if len(m.slots) == 0 {
				return m, nil
			}
			m.creatingSlot = true
			choice := m.slots[m.selectedSlot]
			if choice == newSlotLabel {
				return m, m.openSlot("save-"+time.Now().Format("20060102-150405"), true)
			}
			return m, m.openSlot(choice, false)
		}
	}

	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m.quit()
		default:
			switch msg.String() {
			case "y", "Y":
				return m.quit()
			case "n", "N":
				m.showQuitModal = false
				if m.showSlotModal {
					return m, nil
				}
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) quit() (tea.Model, tea.Cmd) {
	if m.stopListen != nil {
		m.stopListen()
	}
	return m, tea.Quit
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Your slot is saved after every committed turn.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) renderSlotModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder

	switch {
	case m.err != nil:
		content.WriteString(modalTitleStyle.Render("Error"))
		content.WriteString("\n\n")
		content.WriteString(errorStyle.Render(m.err.Error()))
		content.WriteString("\n\n")
		content.WriteString("Press Ctrl+C to exit")
	case m.loadingSlots:
		content.WriteString(modalTitleStyle.Render("Loading Slots..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Please wait while we fetch your save slots..."))
	case m.creatingSlot:
		content.WriteString(modalTitleStyle.Render("Opening Slot..."))
		content.WriteString("\n\n")
		content.WriteString(loadingStyle.Render("Loading the conversation..."))
	default:
		content.WriteString(modalTitleStyle.Render("Select a Slot"))
		content.WriteString("\n\n")
		for i, slot := range m.slots {
			if i == m.selectedSlot {
				content.WriteString(modalSelectedItemStyle.Render(fmt.Sprintf("▶ %s", slot)))
			} else {
				content.WriteString(modalItemStyle.Render(fmt.Sprintf("  %s", slot)))
			}
			content.WriteString("\n")
		}
		content.WriteString("\n")
		content.WriteString(promptStyle.Render("Use ↑/↓ to navigate, Enter to select, Ctrl+C to exit"))
	}

	modal := modalStyle.Width(60).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if m.showSlotModal {
		return m.renderSlotModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	chatWidth := int(float64(m.width)*0.72) - 4
	metaWidth := m.width - chatWidth - 6

	chatPanel := chatPanelStyle.Width(chatWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.chatViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(chatWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, chatPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar while turns are pending
func (m ConsoleUI) renderProgressBar() string {
	usable := m.chatViewport.Width - 6
	if usable <= 0 {
		usable = 30 // fallback before sizing
	}
	usable = min(max(usable, 10), 80)

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := range usable {
		switch {
		case i < filled:
			bar.WriteString("█")
		case i == filled && frame%4 < 2:
			bar.WriteString("▓") // Blinking effect at the progress point
		default:
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
