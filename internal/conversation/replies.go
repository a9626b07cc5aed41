package conversation

import (
	"fmt"
	"strings"

	"github.com/agrodiag/agrodiag/internal/reports"
)

// User-facing reply texts. The product speaks Spanish; engine failure
// messages are relayed verbatim because they arrive already localized.
const (
	replyNotRegistered = "No encontramos una cuenta asociada a este contacto. " +
		"Regístrate en la aplicación web de AgroDiag para usar el servicio de diagnóstico."

	replyIdleGuidance = "Hola 👋 Envía /new para iniciar un diagnóstico guiado, " +
		"o manda una foto con el texto \"<cultivo> - <síntomas>\" para un diagnóstico rápido."

	promptCropName = "¿Qué cultivo quieres diagnosticar? Escribe su nombre (por ejemplo: tomate)."

	replyCropInvalid = "No entendí el cultivo. Escríbelo en texto, con al menos 2 letras."

	promptNotes = "Describe los síntomas que observas (manchas, color, plagas...). " +
		"Escribe \"omitir\" si prefieres saltar este paso."

	promptImage = "Perfecto. Ahora envía una foto clara de la planta afectada."

	replyImageExpected = "Necesito una foto para continuar. Envía una imagen de la planta afectada."

	replyStillProcessing = "Tu diagnóstico anterior todavía está en proceso. Espera un momento, por favor."

	replyAnalyzing = "Analizando tu imagen 🔍 Esto puede tardar un momento..."

	replyOutOfCredits = "Te quedaste sin créditos de diagnóstico. " +
		"Recarga desde la aplicación web para continuar."

	replyRetryLater = "Ocurrió un error al procesar tu solicitud. Intenta de nuevo en unos minutos."

	replyUnknownState = "Algo salió mal con tu conversación. Empecemos de nuevo: envía /new para iniciar."

	replyNeedsBetterImagePrefix = "Lo siento, no pude obtener un diagnóstico con esa imagen."

	replyNeedsBetterImageRetry = "Envía otra foto más clara y cercana de la zona afectada."

	replyHelp = "Comandos disponibles:\n" +
		"/new - iniciar un diagnóstico guiado\n" +
		"/history - ver tus diagnósticos recientes\n" +
		"/credits - consultar tus créditos\n" +
		"/help - mostrar esta ayuda\n\n" +
		"Atajo: envía una foto con el texto \"<cultivo> - <síntomas>\" para un diagnóstico inmediato."

	replyNoHistory = "Todavía no tienes diagnósticos registrados. Envía /new para hacer el primero."

	notifyOtherChannelText = "🌱 AgroDiag: tu diagnóstico de %s está listo. Revisa el chat donde lo solicitaste."
)

func formatNeedsBetterImage(engineMessage string) string {
	parts := []string{replyNeedsBetterImagePrefix}
	if msg := strings.TrimSpace(engineMessage); msg != "" {
		parts = append(parts, msg)
	}
	parts = append(parts, replyNeedsBetterImageRetry)
	return strings.Join(parts, " ")
}

func formatSuccess(cropName string, confidence float64, reportMarkdown string, remainingCredits int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌱 *Diagnóstico: %s*\n", cropName)
	fmt.Fprintf(&b, "Confianza: %.0f%%\n\n", confidence*100)
	b.WriteString(strings.TrimSpace(reportMarkdown))
	fmt.Fprintf(&b, "\n\nCréditos restantes: %d", remainingCredits)
	return b.String()
}

func formatCredits(remaining int) string {
	if remaining == 1 {
		return "Te queda 1 crédito de diagnóstico."
	}
	return fmt.Sprintf("Te quedan %d créditos de diagnóstico.", remaining)
}

func formatHistory(items []reports.Report) string {
	if len(items) == 0 {
		return replyNoHistory
	}
	var b strings.Builder
	b.WriteString("Tus diagnósticos recientes:\n")
	for i, r := range items {
		fmt.Fprintf(&b, "%d. %s - confianza %.0f%% (%s)\n",
			i+1, r.CropName, r.Confidence*100, r.CreatedAt.Format("02/01/2006"))
	}
	b.WriteString("\nEnvía /new para un nuevo diagnóstico.")
	return b.String()
}
