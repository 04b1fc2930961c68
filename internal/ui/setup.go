package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rotisserie/eris"

	"github.com/cybre/ravebox/internal/utils"
)

var ErrSelectionAborted = eris.New("selection aborted")

type Option struct {
	Label string
}

// Step is one list the user picks an entry from, e.g. the strip bulb or the capture device.
type Step struct {
	// Name labels the choice on the summary screen.
	Name    string
	Title   string
	Options []Option
	Initial int
}

// RunSetup walks the user through steps and returns the chosen index of every step. Steps
// without options are skipped and report their clamped initial index.
func RunSetup(steps []Step) ([]int, error) {
	m := newSetupModel(steps)
	if len(m.active) == 0 {
		return m.choices, nil
	}
	if !IsInteractive() {
		return nil, ErrNoInteractiveTTY
	}

	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, eris.Wrap(err, "failed to run setup")
	}

	result := final.(setupModel)
	if result.err != nil {
		return nil, result.err
	}
	return result.choices, nil
}

type setupModel struct {
	steps   []Step
	choices []int
	// indices of the steps that have something to choose from
	active []int

	// position in active; len(active) is the summary screen
	pos    int
	cursor int
	done   bool
	err    error
}

func newSetupModel(steps []Step) setupModel {
	m := setupModel{steps: steps, choices: make([]int, len(steps))}
	for i, step := range steps {
		m.choices[i] = utils.ClampIndex(step.Initial, len(step.Options))
		if len(step.Options) > 0 {
			m.active = append(m.active, i)
		}
	}
	m.moveTo(0)
	return m
}

func (m *setupModel) moveTo(pos int) {
	m.pos = utils.Clamp(pos, 0, len(m.active))
	m.cursor = 0
	if step, ok := m.current(); ok {
		m.cursor = m.choices[step]
	}
}

func (m setupModel) current() (int, bool) {
	if m.pos >= len(m.active) {
		return 0, false
	}
	return m.active[m.pos], true
}

func (m setupModel) Init() tea.Cmd {
	return nil
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.done {
		return m, tea.Quit
	}

	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	step, choosing := m.current()
	switch key.String() {
	case "ctrl+c", "esc", "q":
		m.err = ErrSelectionAborted
		return m, tea.Quit
	case "up", "k":
		if choosing {
			m.cursor = utils.Wrap(m.cursor-1, len(m.steps[step].Options))
		}
	case "down", "j":
		if choosing {
			m.cursor = utils.Wrap(m.cursor+1, len(m.steps[step].Options))
		}
	case "enter", "tab", "right", "l":
		if !choosing {
			if key.String() == "enter" {
				m.done = true
				return m, tea.Quit
			}
			break
		}
		m.choices[step] = m.cursor
		m.moveTo(m.pos + 1)
	case "shift+tab", "left", "h", "backspace", "b":
		if choosing {
			m.choices[step] = m.cursor
		}
		m.moveTo(m.pos - 1)
	}

	return m, nil
}

func (m setupModel) View() string {
	step, choosing := m.current()
	if !choosing {
		return m.renderSummary()
	}

	instructions := []string{"↑/k ↓/j move", "enter confirm"}
	if m.pos > 0 {
		instructions = append(instructions, "shift+tab/left back")
	}
	instructions = append(instructions, "esc cancel")

	lines := []string{"", titleStyle.Render(m.steps[step].Title)}
	if m.pos > 0 {
		lines = append(lines, "")
		for _, prev := range m.active[:m.pos] {
			lines = append(lines, m.renderChoice(prev))
		}
	}
	lines = append(lines,
		"",
		renderOptionList(m.steps[step].Options, m.cursor),
		"",
		renderInstructions(instructions),
		"",
	)
	return strings.Join(lines, "\n")
}

func (m setupModel) renderSummary() string {
	lines := []string{"", titleStyle.Render("Ready to start"), ""}
	for _, i := range m.active {
		lines = append(lines, m.renderChoice(i))
	}
	lines = append(lines,
		"",
		renderInstructions([]string{"enter start", "←/h/b/backspace edit", "esc cancel"}),
		"",
	)
	return strings.Join(lines, "\n")
}

func (m setupModel) renderChoice(step int) string {
	label := "not selected"
	if options := m.steps[step].Options; m.choices[step] < len(options) {
		label = options[m.choices[step]].Label
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		summaryLabelStyle.Render(m.steps[step].Name+": "),
		summaryValueStyle.Render(label),
	)
}

func renderOptionList(items []Option, cursor int) string {
	if len(items) == 0 {
		return emptyStateStyle.Render("No options detected")
	}

	rows := make([]string, len(items))
	for i, item := range items {
		pointer, label := inactivePointerStyle.Render(" "), itemStyle.Render(item.Label)
		if i == cursor {
			pointer, label = pointerStyle.Render("›"), selectedItemStyle.Render(item.Label)
		}
		rows[i] = lipgloss.JoinHorizontal(lipgloss.Left, pointer, " ", label)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderInstructions(parts []string) string {
	var segments []string
	for i, part := range parts {
		if i > 0 {
			segments = append(segments, instructionDividerStyle.Render(" · "))
		}
		segments = append(segments, renderInstruction(part))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, segments...)
}

// renderInstruction highlights every token but the last, which describes the action.
func renderInstruction(part string) string {
	tokens := strings.Fields(part)
	switch len(tokens) {
	case 0:
		return ""
	case 1:
		return instructionTextStyle.Render(tokens[0])
	}

	keys := tokens[:len(tokens)-1]
	return lipgloss.JoinHorizontal(lipgloss.Left,
		instructionKeyStyle.Render(strings.Join(keys, " ")),
		instructionTextStyle.Render(" "+tokens[len(tokens)-1]),
	)
}
